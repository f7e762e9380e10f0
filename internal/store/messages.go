package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

const messageColumns = `id, user_id, message_id, from_email, from_name, to_header, cc_header, bcc_header,
        subject, text_body, html_body, stripped_reply, tag, mailbox_hash, headers, raw_payload, received_date, created_at`

const messageColumnCount = 18

// insertBatchRows keeps one INSERT well under the bind variable limits of
// SQLite (32766) and Postgres (65535).
const insertBatchRows = 500

// OwnersWithMessage reports which of userIDs already hold a copy of the
// provider message.
func (s *Store) OwnersWithMessage(ctx context.Context, providerMessageID string, userIDs []int64) (map[int64]struct{}, error) {
	owners := map[int64]struct{}{}
	if providerMessageID == "" || len(userIDs) == 0 {
		return owners, nil
	}
	for batch := range slices.Chunk(userIDs, lookupBatchSize) {
		if err := s.ownersInBatch(ctx, providerMessageID, batch, owners); err != nil {
			return nil, fmt.Errorf("existing owners: %w", err)
		}
	}
	return owners, nil
}

func (s *Store) ownersInBatch(ctx context.Context, providerMessageID string, userIDs []int64, owners map[int64]struct{}) error {
	args := make([]any, 0, len(userIDs)+1)
	args = append(args, providerMessageID)
	for _, id := range userIDs {
		args = append(args, id)
	}
	query := s.rebind(fmt.Sprintf(`SELECT DISTINCT user_id FROM inbound_emails
        WHERE message_id = ? AND user_id IN (%s);`, placeholders(len(userIDs))))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		owners[id] = struct{}{}
	}
	return rows.Err()
}

// CreateMessages inserts all messages in one transaction, in batches of
// insertBatchRows. Rows that collide with an existing (owner, provider
// message id) pair are skipped rather than failing the batch; only the rows
// actually written are returned.
func (s *Store) CreateMessages(ctx context.Context, messages []StoredMessage) ([]StoredMessage, error) {
	if len(messages) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	inserted := map[string]struct{}{}
	for batch := range slices.Chunk(messages, insertBatchRows) {
		if err := s.insertBatch(ctx, tx, batch, inserted); err != nil {
			return nil, fmt.Errorf("insert messages: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit messages: %w", err)
	}

	created := make([]StoredMessage, 0, len(inserted))
	for _, message := range messages {
		if _, ok := inserted[message.ID]; ok {
			created = append(created, message)
		}
	}
	return created, nil
}

func (s *Store) insertBatch(ctx context.Context, tx *sql.Tx, messages []StoredMessage, inserted map[string]struct{}) error {
	args := make([]any, 0, len(messages)*messageColumnCount)
	values := make([]string, 0, len(messages))
	rowPlaceholder := "(" + placeholders(messageColumnCount) + ")"
	for _, message := range messages {
		headers := message.Headers
		if headers == nil {
			headers = []Header{}
		}
		encodedHeaders, err := json.Marshal(headers)
		if err != nil {
			return fmt.Errorf("encode headers: %w", err)
		}
		raw := message.RawPayload
		if len(raw) == 0 {
			raw = json.RawMessage("{}")
		}
		values = append(values, rowPlaceholder)
		args = append(args,
			message.ID,
			message.OwnerID,
			message.ProviderMessageID,
			message.FromEmail,
			message.FromName,
			message.To,
			message.Cc,
			message.Bcc,
			message.Subject,
			message.TextBody,
			message.HTMLBody,
			message.StrippedReply,
			message.Tag,
			message.MailboxHash,
			string(encodedHeaders),
			string(raw),
			message.ReceivedDate,
			message.CreatedAt.UnixMicro(),
		)
	}

	query := s.rebind(`INSERT INTO inbound_emails (` + messageColumns + `)
        VALUES ` + strings.Join(values, ", ") + `
        ON CONFLICT DO NOTHING
        RETURNING id;`)
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		inserted[id] = struct{}{}
	}
	return rows.Err()
}

func (s *Store) ListMessages(ctx context.Context, ownerID int64, sort string, offset, limit int32) ([]StoredMessage, int32, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var totalCount int64
	if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(1) FROM inbound_emails WHERE user_id = ?;`), ownerID).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}
	if totalCount > int64(^uint32(0)>>1) {
		totalCount = int64(^uint32(0) >> 1)
	}

	orderBy := " ORDER BY created_at DESC, id DESC"
	switch sort {
	case "oldest", "asc":
		orderBy = " ORDER BY created_at ASC, id ASC"
	}

	query := s.rebind(`SELECT ` + messageColumns + ` FROM inbound_emails WHERE user_id = ?` + orderBy + ` LIMIT ? OFFSET ?;`)
	rows, err := s.db.QueryContext(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []StoredMessage{}
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("list messages: %w", err)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	return messages, int32(totalCount), nil
}

// GetMessage returns ErrNotFound both for unknown ids and for messages that
// belong to another owner.
func (s *Store) GetMessage(ctx context.Context, ownerID int64, id string) (StoredMessage, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+messageColumns+` FROM inbound_emails WHERE id = ? AND user_id = ?;`), id, ownerID)
	message, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StoredMessage{}, ErrNotFound
		}
		return StoredMessage{}, fmt.Errorf("get message: %w", err)
	}
	return message, nil
}

func (s *Store) DeleteMessage(ctx context.Context, ownerID int64, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM inbound_emails WHERE id = ? AND user_id = ?;`), id, ownerID)
	if err != nil {
		return false, fmt.Errorf("delete message: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete message: %w", err)
	}
	return rows > 0, nil
}

func scanMessage(row scanner) (StoredMessage, error) {
	var message StoredMessage
	var headers, raw string
	var createdAt int64
	if err := row.Scan(
		&message.ID,
		&message.OwnerID,
		&message.ProviderMessageID,
		&message.FromEmail,
		&message.FromName,
		&message.To,
		&message.Cc,
		&message.Bcc,
		&message.Subject,
		&message.TextBody,
		&message.HTMLBody,
		&message.StrippedReply,
		&message.Tag,
		&message.MailboxHash,
		&headers,
		&raw,
		&message.ReceivedDate,
		&createdAt,
	); err != nil {
		return StoredMessage{}, err
	}
	message.Headers = []Header{}
	if headers != "" {
		if err := json.Unmarshal([]byte(headers), &message.Headers); err != nil {
			return StoredMessage{}, fmt.Errorf("decode headers: %w", err)
		}
	}
	message.RawPayload = json.RawMessage(raw)
	message.CreatedAt = time.UnixMicro(createdAt)
	return message, nil
}
