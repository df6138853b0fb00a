// Package durable is the relational message store collaborator. The core
// consults it synchronously on send (the write of record) and as the
// fallback when a user's cache ring holds fewer than a full page.
//
// Expected schema:
//
//	conversations(id text primary key, user_one_id text, user_two_id text,
//	              unique (user_one_id, user_two_id))
//	messages(id bigserial primary key, conversation_id text references
//	         conversations(id), sender_id text, recipient_id text,
//	         content text, sent_at bigint, media_url text, media_type text)
//	users(id text primary key, username text, profile_picture text, ...)
package durable

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/gutche/yappin/module/chat/model"
)

// PageSize is the durable page unit, matching the cache ring size.
const PageSize = 20

type PG struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*PG, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "pgx pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "pg ping")
	}
	return &PG{pool: pool}, nil
}

func (p *PG) Close() { p.pool.Close() }

// PersistMessage writes the message and returns its conversation id. The
// conversation row is created if absent; two simultaneous first-messages
// between the same pair race on ON CONFLICT DO NOTHING and both land in
// the one conversation the deterministic id names.
func (p *PG) PersistMessage(ctx context.Context, m model.Message) (string, error) {
	convID := model.ConversationID(m.SenderID, m.RecipientID)
	userOne, userTwo, _ := model.ConversationMembers(convID)

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return "", errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO conversations (id, user_one_id, user_two_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO NOTHING`,
		convID, userOne, userTwo,
	); err != nil {
		return "", errors.Wrap(err, "ensure conversation")
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO messages (conversation_id, sender_id, recipient_id, content, sent_at, media_url, media_type)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		convID, m.SenderID, m.RecipientID, m.Content, m.SentAt, m.MediaURL, m.MediaType,
	); err != nil {
		return "", errors.Wrap(err, "insert message")
	}

	if err := tx.Commit(ctx); err != nil {
		return "", errors.Wrap(err, "commit")
	}
	return convID, nil
}

// LoadConversationPage returns one page of PageSize messages, offset
// counted back from the newest, ordered oldest-first within the page so
// pages concatenate in front of newer history.
func (p *PG) LoadConversationPage(ctx context.Context, conversationID string, offset int) ([]model.Message, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT sender_id, recipient_id, conversation_id, content, sent_at,
		        COALESCE(media_url, ''), COALESCE(media_type, '')
		 FROM messages
		 WHERE conversation_id = $1
		 ORDER BY sent_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		conversationID, PageSize, offset,
	)
	if err != nil {
		return nil, errors.Wrap(err, "load page")
	}
	defer rows.Close()

	var page []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.SenderID, &m.RecipientID, &m.ConversationID,
			&m.Content, &m.SentAt, &m.MediaURL, &m.MediaType); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		page = append(page, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows")
	}

	// scanned newest-first; flip to oldest-first
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, nil
}

func (p *PG) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = $1`,
		conversationID,
	).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count messages")
	}
	return n, nil
}

func (p *PG) ConversationIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT DISTINCT conversation_id FROM messages
		 WHERE sender_id = $1 OR recipient_id = $1`,
		userID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "conversation ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan conversation id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LookupUserProfile serves the read-only profile contract for snapshot
// annotation.
func (p *PG) LookupUserProfile(ctx context.Context, userID string) (model.UserProfile, error) {
	var prof model.UserProfile
	err := p.pool.QueryRow(ctx,
		`SELECT username, COALESCE(profile_picture, '') FROM users WHERE id = $1`,
		userID,
	).Scan(&prof.Username, &prof.Avatar)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.UserProfile{}, errors.Errorf("user %s not found", userID)
	}
	if err != nil {
		return model.UserProfile{}, errors.Wrap(err, "lookup profile")
	}
	return prof, nil
}
