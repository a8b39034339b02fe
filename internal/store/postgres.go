package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"studyhall/api/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ── Users ──

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, is_email_verified, verification_token)
		VALUES ($1, $2, LOWER($3), $4, $5, $6)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, is_email_verified
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, is_email_verified
		FROM users
		WHERE email = LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET verification_token = $2, verification_expires_at = $3, updated_at = NOW()
		WHERE id = $1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified = TRUE, verification_token = NULL, verification_expires_at = NULL, updated_at = NOW()
		WHERE verification_token = $1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token = $1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at = NOW() WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// ── Refresh sessions (Postgres fallback when Redis is not configured) ──

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email, u.is_email_verified
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ── Folders ──

func (s *PostgresStore) ListFolders(ctx context.Context, ownerID string) ([]Folder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, owner_id, created_at
		FROM folders
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	items := make([]Folder, 0)
	for rows.Next() {
		var item Folder
		if err := rows.Scan(&item.ID, &item.Title, &item.OwnerID, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate folders: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetFolder(ctx context.Context, folderID string) (Folder, error) {
	var item Folder
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, owner_id, created_at FROM folders WHERE id = $1
	`, folderID).Scan(&item.ID, &item.Title, &item.OwnerID, &item.CreatedAt)
	if err != nil {
		return Folder{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertFolder(ctx context.Context, item Folder) (Folder, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO folders (id, title, owner_id)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, item.ID, item.Title, item.OwnerID).Scan(&item.CreatedAt)
	if err != nil {
		return Folder{}, fmt.Errorf("insert folder: %w", err)
	}
	return item, nil
}

// ── Spaces ──

func (s *PostgresStore) ListSpaces(ctx context.Context, folderID string) ([]Space, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, folder_id, type, title, created_at
		FROM spaces
		WHERE folder_id = $1
		ORDER BY created_at DESC
	`, folderID)
	if err != nil {
		return nil, fmt.Errorf("list spaces: %w", err)
	}
	defer rows.Close()

	items := make([]Space, 0)
	for rows.Next() {
		var item Space
		if err := rows.Scan(&item.ID, &item.FolderID, &item.Type, &item.Title, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan space: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate spaces: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetSpace(ctx context.Context, spaceID string) (Space, error) {
	var item Space
	err := s.db.QueryRowContext(ctx, `
		SELECT id, folder_id, type, title, created_at FROM spaces WHERE id = $1
	`, spaceID).Scan(&item.ID, &item.FolderID, &item.Type, &item.Title, &item.CreatedAt)
	if err != nil {
		return Space{}, err
	}
	return item, nil
}

// GetSpaceOwner re-derives the ownership chain space → folder → owner with a
// single join. Deliberately never cached: a concurrent folder transfer must be
// visible to the very next call.
func (s *PostgresStore) GetSpaceOwner(ctx context.Context, spaceID string) (string, error) {
	var ownerID string
	err := s.db.QueryRowContext(ctx, `
		SELECT f.owner_id
		FROM spaces sp
		JOIN folders f ON f.id = sp.folder_id
		WHERE sp.id = $1
	`, spaceID).Scan(&ownerID)
	if err != nil {
		return "", err
	}
	return ownerID, nil
}

func (s *PostgresStore) InsertSpace(ctx context.Context, item Space) (Space, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO spaces (id, folder_id, type, title)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, item.ID, item.FolderID, item.Type, item.Title).Scan(&item.CreatedAt)
	if err != nil {
		return Space{}, fmt.Errorf("insert space: %w", err)
	}
	return item, nil
}

// ── Messages ──

func (s *PostgresStore) ListMessages(ctx context.Context, spaceID string) ([]Message, error) {
	return scanMessages(s.db.QueryContext(ctx, `
		SELECT id, space_id, role, content, seq, created_at
		FROM messages
		WHERE space_id = $1
		ORDER BY seq ASC
	`, spaceID))
}

// GenerateError marks a failure returned by the generate callback passed to
// CreateExchange. Callers use it to tell completion failures apart from
// failures of the store itself.
type GenerateError struct {
	Err error
}

func (e *GenerateError) Error() string { return "generate reply: " + e.Err.Error() }

func (e *GenerateError) Unwrap() error { return e.Err }

// CreateExchange runs the send-message write protocol: inside one transaction
// it serializes on the space, appends the user turn, reads the full history
// (including that turn), asks generate for the assistant reply, and appends it.
// Any failure rolls the whole exchange back; readers see two new rows or none.
func (s *PostgresStore) CreateExchange(ctx context.Context, spaceID, userContent string, generate func(context.Context, []Message) (string, error)) (Message, Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, Message{}, fmt.Errorf("begin exchange tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Advisory lock keyed on the space id: two concurrent sends to the same
	// space would otherwise each read a history that omits the other's turn.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, spaceID); err != nil {
		return Message{}, Message{}, fmt.Errorf("lock space: %w", err)
	}

	userMsg := Message{
		ID:      util.NewID("msg"),
		SpaceID: spaceID,
		Role:    RoleUser,
		Content: userContent,
	}
	if err := insertMessage(ctx, tx, &userMsg); err != nil {
		return Message{}, Message{}, err
	}

	history, err := scanMessages(tx.QueryContext(ctx, `
		SELECT id, space_id, role, content, seq, created_at
		FROM messages
		WHERE space_id = $1
		ORDER BY seq ASC
	`, spaceID))
	if err != nil {
		return Message{}, Message{}, err
	}

	reply, err := generate(ctx, history)
	if err != nil {
		return Message{}, Message{}, &GenerateError{Err: err}
	}

	assistantMsg := Message{
		ID:      util.NewID("msg"),
		SpaceID: spaceID,
		Role:    RoleAssistant,
		Content: reply,
	}
	if err := insertMessage(ctx, tx, &assistantMsg); err != nil {
		return Message{}, Message{}, err
	}

	if err := tx.Commit(); err != nil {
		return Message{}, Message{}, fmt.Errorf("commit exchange: %w", err)
	}
	return userMsg, assistantMsg, nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, msg *Message) error {
	err := tx.QueryRowContext(ctx, `
		INSERT INTO messages (id, space_id, role, content)
		VALUES ($1, $2, $3, $4)
		RETURNING seq, created_at
	`, msg.ID, msg.SpaceID, msg.Role, msg.Content).Scan(&msg.Seq, &msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert %s message: %w", msg.Role, err)
	}
	return nil
}

func scanMessages(rows *sql.Rows, err error) ([]Message, error) {
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		var item Message
		if err := rows.Scan(&item.ID, &item.SpaceID, &item.Role, &item.Content, &item.Seq, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, nil
}

// IsNotFound reports whether err is the store's row-absence sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
