package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/beeper/persona-session-orchestrator/internal/apierr"
	"github.com/beeper/persona-session-orchestrator/internal/domain"
)

// ConversationStore implements C2: session metadata and the append-only
// message log, scoped by owner.
type ConversationStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// CreateSession persists a new session. id must already be a valid session
// id embedding owner (see domain.NewSessionID); callers mint it before
// calling in so the id can be returned to clients before the first write.
func (s *ConversationStore) CreateSession(ctx context.Context, sess *domain.Session) (*domain.Session, error) {
	if err := domain.ValidateSessionOwner(sess.ID, sess.Owner); err != nil {
		return nil, apierr.Validation(err.Error())
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, owner, title, user_display_name, user_handle, user_persona, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Owner, sess.Title, sess.UserDisplayName, sess.UserHandle, sess.UserPersona, sess.CreatedAt.Unix())
	if err != nil {
		return nil, apierr.Internal("inserting session", err)
	}
	return sess, nil
}

// GetSession returns the session if owned by owner, enforcing invariant 5.
func (s *ConversationStore) GetSession(ctx context.Context, owner, id string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner, title, user_display_name, user_handle, user_persona, created_at
		FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err != nil {
		return nil, err
	}
	if sess.Owner != owner {
		return nil, apierr.NotFound("session not found")
	}
	if err := domain.ValidateSessionOwner(sess.ID, sess.Owner); err != nil {
		return nil, apierr.Internal("session id owner mismatch", err)
	}
	return sess, nil
}

// ListSessions returns owner's sessions newest-first.
func (s *ConversationStore) ListSessions(ctx context.Context, owner string) ([]*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, title, user_display_name, user_handle, user_persona, created_at
		FROM sessions WHERE owner = ? ORDER BY created_at DESC`, owner)
	if err != nil {
		return nil, apierr.Internal("listing sessions", err)
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// UpdateSessionMeta applies a partial patch to mutable session fields.
func (s *ConversationStore) UpdateSessionMeta(ctx context.Context, owner, id string, patch domain.SessionMetaPatch) (*domain.Session, error) {
	sess, err := s.GetSession(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if patch.Title != nil {
		sess.Title = *patch.Title
	}
	if patch.UserDisplayName != nil {
		sess.UserDisplayName = *patch.UserDisplayName
	}
	if patch.UserHandle != nil {
		sess.UserHandle = *patch.UserHandle
	}
	if patch.UserPersona != nil {
		sess.UserPersona = *patch.UserPersona
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE sessions SET title=?, user_display_name=?, user_handle=?, user_persona=? WHERE id=? AND owner=?`,
		sess.Title, sess.UserDisplayName, sess.UserHandle, sess.UserPersona, sess.ID, sess.Owner)
	if err != nil {
		return nil, apierr.Internal("updating session", err)
	}
	return sess, nil
}

// DeleteSession removes a session and its messages. It does not cancel any
// in-flight turn; that is the caller's job (C6's, not the store's).
func (s *ConversationStore) DeleteSession(ctx context.Context, owner, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apierr.Internal("beginning transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ? AND owner = ?`, id, owner)
	if err != nil {
		return apierr.Internal("deleting session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierr.NotFound("session not found")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return apierr.Internal("deleting session messages", err)
	}
	return tx.Commit()
}

// DeleteSessions removes all sessions (and their messages) for owner, used
// when a tenant account is torn down.
func (s *ConversationStore) DeleteSessions(ctx context.Context, owner string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apierr.Internal("beginning transaction", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM sessions WHERE owner = ?`, owner)
	if err != nil {
		return apierr.Internal("listing sessions for delete", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return apierr.Internal("scanning session id", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
			return apierr.Internal("deleting messages", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE owner = ?`, owner); err != nil {
		return apierr.Internal("deleting sessions", err)
	}
	return tx.Commit()
}

// AppendMessage assigns the next monotonically increasing position within
// the session and inserts msg atomically (spec.md §4.2 "append_message").
// The UNIQUE(session_id, position) constraint turns a lost race into a
// retryable error rather than silent corruption.
func (s *ConversationStore) AppendMessage(ctx context.Context, owner string, msg *domain.Message) (*domain.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierr.Internal("beginning transaction", err)
	}
	defer tx.Rollback()

	var sessOwner string
	if err := tx.QueryRowContext(ctx, `SELECT owner FROM sessions WHERE id = ?`, msg.SessionID).Scan(&sessOwner); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierr.NotFound("session not found")
		}
		return nil, apierr.Internal("looking up session owner", err)
	}
	if sessOwner != owner {
		return nil, apierr.NotFound("session not found")
	}

	var maxPos sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(position) FROM messages WHERE session_id = ?`, msg.SessionID).Scan(&maxPos); err != nil {
		return nil, apierr.Internal("computing next position", err)
	}
	msg.Position = maxPos.Int64 + 1
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, sender, content, position, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Sender, msg.Content, msg.Position, msg.CreatedAt.Unix())
	if err != nil {
		return nil, apierr.Internal("inserting message", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, apierr.Internal("committing message append", err)
	}
	return msg, nil
}

// ListMessages returns messages in ascending position order, truncated to
// the most recent limit (spec.md §4.2). A non-positive limit means no cap.
// The most-recent-N rows are fetched in descending order first, then
// reversed, since a plain ascending LIMIT would instead keep the oldest N.
func (s *ConversationStore) ListMessages(ctx context.Context, owner, sessionID string, limit int) ([]*domain.Message, error) {
	if _, err := s.GetSession(ctx, owner, sessionID); err != nil {
		return nil, err
	}

	query := `SELECT id, session_id, sender, content, position, created_at FROM messages WHERE session_id = ? ORDER BY position DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierr.Internal("listing messages", err)
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, apierr.Internal("listing messages", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func scanSession(row rowScanner) (*domain.Session, error) {
	s := &domain.Session{}
	var createdAt int64
	err := row.Scan(&s.ID, &s.Owner, &s.Title, &s.UserDisplayName, &s.UserHandle, &s.UserPersona, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NotFound("session not found")
	}
	if err != nil {
		return nil, apierr.Internal("scanning session", err)
	}
	s.CreatedAt = time.Unix(createdAt, 0).UTC()
	return s, nil
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	m := &domain.Message{}
	var createdAt int64
	err := row.Scan(&m.ID, &m.SessionID, &m.Sender, &m.Content, &m.Position, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NotFound("message not found")
	}
	if err != nil {
		return nil, apierr.Internal("scanning message", err)
	}
	m.CreatedAt = time.Unix(createdAt, 0).UTC()
	return m, nil
}
