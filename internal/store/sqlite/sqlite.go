package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/quasarchat/quasar-server/internal/presence"
	"github.com/quasarchat/quasar-server/internal/store"
)

// Schema for the directory tables. Resource CRUD lives in other services;
// this process only reads memberships and reads/writes presence fields.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id               TEXT PRIMARY KEY,
	username         TEXT NOT NULL UNIQUE,
	password_hash    TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'offline',
	preferred_status TEXT NOT NULL DEFAULT 'online',
	hide_status      INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS channels (
	id        TEXT PRIMARY KEY,
	server_id TEXT NOT NULL,
	name      TEXT NOT NULL,
	kind      TEXT NOT NULL DEFAULT 'text'
);

CREATE TABLE IF NOT EXISTS server_members (
	server_id TEXT NOT NULL,
	user_id   TEXT NOT NULL,
	PRIMARY KEY (server_id, user_id)
);

CREATE TABLE IF NOT EXISTS friends (
	sender_id    TEXT NOT NULL,
	recipient_id TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	PRIMARY KEY (sender_id, recipient_id)
);
`

// Store implements store.Directory plus the presence collaborators
// (presence.StatusStore, presence.Roster) on SQLite.
type Store struct {
	db *sql.DB
}

// New opens the SQLite database and ensures the directory schema exists.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ----------------------------------------------------------------------
// store.Directory
// ----------------------------------------------------------------------

// UserByUsername fetches an account for login.
func (s *Store) UserByUsername(ctx context.Context, username string) (*store.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, status, preferred_status, hide_status, created_at
		FROM users WHERE username = ?`, username)

	var (
		u  store.User
		id string
	)
	err := row.Scan(&id, &u.Username, &u.PasswordHash, &u.Status, &u.PreferredStatus, &u.HideStatus, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	if u.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	return &u, nil
}

// Channel fetches one channel by ID.
func (s *Store) Channel(ctx context.Context, id uuid.UUID) (*store.Channel, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, server_id, name, kind FROM channels WHERE id = ?`, id.String())

	var (
		ch               store.Channel
		chID, chServerID string
	)
	err := row.Scan(&chID, &chServerID, &ch.Name, &ch.Kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query channel: %w", err)
	}
	if ch.ID, err = uuid.Parse(chID); err != nil {
		return nil, fmt.Errorf("parse channel id: %w", err)
	}
	if ch.ServerID, err = uuid.Parse(chServerID); err != nil {
		return nil, fmt.Errorf("parse server id: %w", err)
	}
	return &ch, nil
}

// IsServerMember reports whether the user belongs to the server.
func (s *Store) IsServerMember(ctx context.Context, serverID, userID uuid.UUID) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM server_members WHERE server_id = ? AND user_id = ?`,
		serverID.String(), userID.String())

	var one int
	err := row.Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query membership: %w", err)
	}
	return true, nil
}

// VoiceChannelIDs lists the server's voice channels.
func (s *Store) VoiceChannelIDs(ctx context.Context, serverID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM channels WHERE server_id = ? AND kind = ?`,
		serverID.String(), store.ChannelVoice)
	if err != nil {
		return nil, fmt.Errorf("query voice channels: %w", err)
	}
	defer rows.Close()
	return scanUUIDs(rows)
}

// ----------------------------------------------------------------------
// presence.Roster
// ----------------------------------------------------------------------

// ServerIDs lists every server the user is a member of.
func (s *Store) ServerIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT server_id FROM server_members WHERE user_id = ?`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("query servers: %w", err)
	}
	defer rows.Close()
	return scanUUIDs(rows)
}

// FriendIDs lists the user's accepted friends, whichever side sent the request.
func (s *Store) FriendIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	uid := userID.String()
	rows, err := s.db.QueryContext(ctx, `
		SELECT CASE WHEN sender_id = ? THEN recipient_id ELSE sender_id END
		FROM friends
		WHERE (sender_id = ? OR recipient_id = ?) AND status = 'accepted'`,
		uid, uid, uid)
	if err != nil {
		return nil, fmt.Errorf("query friends: %w", err)
	}
	defer rows.Close()
	return scanUUIDs(rows)
}

// ----------------------------------------------------------------------
// presence.StatusStore
// ----------------------------------------------------------------------

// VisibleStatus returns the status currently shown to other users.
func (s *Store) VisibleStatus(ctx context.Context, userID uuid.UUID) (presence.Status, error) {
	return s.statusColumn(ctx, "status", userID)
}

// SetVisibleStatus updates the status shown to other users.
func (s *Store) SetVisibleStatus(ctx context.Context, userID uuid.UUID, status presence.Status) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET status = ? WHERE id = ?`,
		string(status), userID.String())
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// PreferredStatus returns the status the user last chose.
func (s *Store) PreferredStatus(ctx context.Context, userID uuid.UUID) (presence.Status, error) {
	return s.statusColumn(ctx, "preferred_status", userID)
}

// HideStatus reports whether the user's status is hidden from observers.
func (s *Store) HideStatus(ctx context.Context, userID uuid.UUID) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT hide_status FROM users WHERE id = ?`, userID.String())

	var hidden bool
	err := row.Scan(&hidden)
	if errors.Is(err, sql.ErrNoRows) {
		return false, store.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("query hide flag: %w", err)
	}
	return hidden, nil
}

func (s *Store) statusColumn(ctx context.Context, column string, userID uuid.UUID) (presence.Status, error) {
	// column is one of two compile-time constants, never user input.
	row := s.db.QueryRowContext(ctx, `SELECT `+column+` FROM users WHERE id = ?`, userID.String())

	var status string
	err := row.Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return presence.StatusOffline, store.ErrNotFound
	}
	if err != nil {
		return presence.StatusOffline, fmt.Errorf("query %s: %w", column, err)
	}
	return presence.Status(status), nil
}

// ----------------------------------------------------------------------
// Seeding helpers (used by ops tooling and tests; resource CRUD proper is
// another service's job)
// ----------------------------------------------------------------------

// CreateUser inserts an account and returns its generated ID.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	u := &store.User{
		ID:              uuid.New(),
		Username:        username,
		PasswordHash:    passwordHash,
		Status:          string(presence.StatusOffline),
		PreferredStatus: string(presence.StatusOnline),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, status, preferred_status, hide_status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID.String(), u.Username, u.PasswordHash, u.Status, u.PreferredStatus, u.HideStatus)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// CreateChannel inserts a channel row.
func (s *Store) CreateChannel(ctx context.Context, ch *store.Channel) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channels (id, server_id, name, kind) VALUES (?, ?, ?, ?)`,
		ch.ID.String(), ch.ServerID.String(), ch.Name, string(ch.Kind))
	if err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}
	return nil
}

// AddServerMember records a server membership.
func (s *Store) AddServerMember(ctx context.Context, serverID, userID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO server_members (server_id, user_id) VALUES (?, ?)`,
		serverID.String(), userID.String())
	if err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}

// AddFriend records an accepted friendship between two users.
func (s *Store) AddFriend(ctx context.Context, senderID, recipientID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO friends (sender_id, recipient_id, status) VALUES (?, ?, 'accepted')`,
		senderID.String(), recipientID.String())
	if err != nil {
		return fmt.Errorf("insert friendship: %w", err)
	}
	return nil
}

// SetPresenceFields sets the durable presence columns directly.
func (s *Store) SetPresenceFields(ctx context.Context, userID uuid.UUID, visible, preferred presence.Status, hidden bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET status = ?, preferred_status = ?, hide_status = ? WHERE id = ?`,
		string(visible), string(preferred), hidden, userID.String())
	if err != nil {
		return fmt.Errorf("update presence fields: %w", err)
	}
	return nil
}

func scanUUIDs(rows *sql.Rows) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
