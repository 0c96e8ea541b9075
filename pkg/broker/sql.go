package broker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// SQLConfig configures the relational provider. The statements are
// parameterized with ? placeholders in the order documented per field. Note
// that the server-id and access-token updates use distinct statements.
type SQLConfig struct {
	Driver string
	DSN    string

	// AuthQuery binds (login, password) plus ip if it has a third
	// placeholder; auth succeeds if a row exists.
	AuthQuery string
	// AuthMessage is the error text returned on a failed auth.
	AuthMessage string
	// EntryUUIDQuery binds (uuid) and selects uuid, username, access_token,
	// server_id.
	EntryUUIDQuery string
	// EntryNameQuery binds (username) and selects the same columns.
	EntryNameQuery string
	// SetAccessTokenQuery binds (token, uuid).
	SetAccessTokenQuery string
	// SetServerIDQuery binds (server_id, uuid).
	SetServerIDQuery string
}

// SQLProvider verifies credentials and stores session bindings in a
// relational database.
type SQLProvider struct {
	cfg SQLConfig
	db  *sqlx.DB
}

var _ Provider = (*SQLProvider)(nil)

// NewSQLProvider opens the database and pings it.
func NewSQLProvider(cfg SQLConfig) (*SQLProvider, error) {
	db, err := sqlx.Connect(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Driver, err)
	}
	return &SQLProvider{cfg: cfg, db: db}, nil
}

// Close releases the connection pool.
func (p *SQLProvider) Close() error {
	return p.db.Close()
}

type entryRow struct {
	UUID        string         `db:"uuid"`
	Username    string         `db:"username"`
	AccessToken sql.NullString `db:"access_token"`
	ServerID    sql.NullString `db:"server_id"`
}

func (r entryRow) entry() (Entry, error) {
	id, err := uuid.Parse(r.UUID)
	if err != nil {
		return Entry{}, fmt.Errorf("parse entry uuid %q: %w", r.UUID, err)
	}
	return Entry{
		UUID:        id,
		Username:    r.Username,
		AccessToken: r.AccessToken.String,
		ServerID:    r.ServerID.String,
	}, nil
}

func (p *SQLProvider) Auth(ctx context.Context, login, password, ip string) (uuid.UUID, error) {
	args := []any{login, password}
	if strings.Count(p.cfg.AuthQuery, "?") >= 3 {
		args = append(args, ip)
	}
	var one int
	err := p.db.QueryRowxContext(ctx, p.cfg.AuthQuery, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, errors.New(p.cfg.AuthMessage)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("auth query: %w", err)
	}
	e, err := p.EntryByName(ctx, login)
	if err != nil {
		return uuid.Nil, err
	}
	return e.UUID, nil
}

func (p *SQLProvider) Entry(ctx context.Context, id uuid.UUID) (Entry, error) {
	var row entryRow
	err := p.db.GetContext(ctx, &row, p.cfg.EntryUUIDQuery, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("entry query: %w", err)
	}
	return row.entry()
}

func (p *SQLProvider) EntryByName(ctx context.Context, username string) (Entry, error) {
	var row entryRow
	err := p.db.GetContext(ctx, &row, p.cfg.EntryNameQuery, username)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %q", ErrNotFound, username)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("entry query: %w", err)
	}
	return row.entry()
}

func (p *SQLProvider) SetAccessToken(ctx context.Context, id uuid.UUID, token string) error {
	if _, err := p.db.ExecContext(ctx, p.cfg.SetAccessTokenQuery, token, id.String()); err != nil {
		return fmt.Errorf("update access token: %w", err)
	}
	return nil
}

func (p *SQLProvider) SetServerID(ctx context.Context, id uuid.UUID, serverID string) error {
	if _, err := p.db.ExecContext(ctx, p.cfg.SetServerIDQuery, serverID, id.String()); err != nil {
		return fmt.Errorf("update server id: %w", err)
	}
	return nil
}
