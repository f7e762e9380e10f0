package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.io/infrasutra/mailbridge/internal/auth"
	"github.io/infrasutra/mailbridge/internal/store"
)

func openStore(ctx context.Context, configPath string) (*store.Store, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL must be set to manage users")
	}
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

// addUser creates a local user. The email is the address inbound mail is
// routed on and the only sender the user may send as; it may be empty.
func addUser(args []string) error {
	fs := flag.NewFlagSet("adduser", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	username := fs.String("username", "", "login name")
	email := fs.String("email", "", "registered email address")
	password := fs.String("password", "", "login password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*username) == "" {
		return errors.New("-username is required")
	}
	hash, err := auth.HashPassword(*password)
	if err != nil {
		return err
	}

	ctx := context.Background()
	db, err := openStore(ctx, *configPath)
	if err != nil {
		return err
	}
	defer db.Close()

	user := store.User{
		Username:     strings.TrimSpace(*username),
		Email:        strings.TrimSpace(*email),
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}
	if err := db.CreateUser(ctx, &user); err != nil {
		return err
	}
	fmt.Printf("created user %s (id %d)\n", user.Username, user.ID)
	return nil
}

func delUser(args []string) error {
	fs := flag.NewFlagSet("deluser", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	username := fs.String("username", "", "login name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*username) == "" {
		return errors.New("-username is required")
	}

	ctx := context.Background()
	db, err := openStore(ctx, *configPath)
	if err != nil {
		return err
	}
	defer db.Close()

	deleted, err := db.DeleteUser(ctx, strings.TrimSpace(*username))
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("no user named %q", *username)
	}
	fmt.Printf("deleted user %s and their stored messages\n", *username)
	return nil
}
