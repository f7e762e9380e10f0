package store

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"
)

const userColumns = `id, username, email, password_hash, created_at, last_login`

func (s *Store) CreateUser(ctx context.Context, user *User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	query := s.rebind(`INSERT INTO users (username, email, password_hash, created_at, last_login)
        VALUES (?, ?, ?, ?, 0)
        RETURNING id;`)
	err := s.db.QueryRowContext(ctx, query,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.CreatedAt.Unix(),
	).Scan(&user.ID)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Store) UserByID(ctx context.Context, id int64) (User, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+userColumns+` FROM users WHERE id = ?;`), id)
	return scanUser(row)
}

func (s *Store) UserByUsername(ctx context.Context, username string) (User, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+userColumns+` FROM users WHERE username = ?;`), username)
	return scanUser(row)
}

// UsersByEmails returns every user whose registered email exactly matches
// one of emails, ordered by id. The comparison is case-sensitive.
func (s *Store) UsersByEmails(ctx context.Context, emails []string) ([]User, error) {
	if len(emails) == 0 {
		return nil, nil
	}
	unique := slices.Clone(emails)
	slices.Sort(unique)
	unique = slices.Compact(unique)

	var users []User
	for batch := range slices.Chunk(unique, lookupBatchSize) {
		found, err := s.usersInBatch(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("users by email: %w", err)
		}
		users = append(users, found...)
	}
	slices.SortFunc(users, func(a, b User) int { return cmp.Compare(a.ID, b.ID) })
	return users, nil
}

func (s *Store) usersInBatch(ctx context.Context, emails []string) ([]User, error) {
	args := make([]any, len(emails))
	for i, email := range emails {
		args[i] = email
	}
	query := s.rebind(fmt.Sprintf(`SELECT %s FROM users WHERE email IN (%s);`, userColumns, placeholders(len(emails))))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) TouchLogin(ctx context.Context, id int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`UPDATE users SET last_login = ? WHERE id = ?;`), now.Unix(), id)
	if err != nil {
		return fmt.Errorf("touch login: %w", err)
	}
	return nil
}

// DeleteUser removes the user and, through the foreign key, every stored
// message they own.
func (s *Store) DeleteUser(ctx context.Context, username string) (bool, error) {
	result, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM users WHERE username = ?;`), username)
	if err != nil {
		return false, fmt.Errorf("delete user: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete user: %w", err)
	}
	return rows > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (User, error) {
	var user User
	var createdAt, lastLogin int64
	if err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&createdAt,
		&lastLogin,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	user.CreatedAt = time.Unix(createdAt, 0)
	if lastLogin > 0 {
		user.LastLogin = time.Unix(lastLogin, 0)
	}
	return user, nil
}
