// Package hosts is the directory of dashboard users and the hosts they
// track, stored in PostgreSQL.
package hosts

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	apperrors "github.com/umrum/umrum/pkg/errors"
	"github.com/umrum/umrum/pkg/postgres"
)

// User is a dashboard account created on first GitHub sign-in.
type User struct {
	ID        int64     `json:"id"`
	GitHubID  int64     `json:"github_id"`
	Login     string    `json:"login"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
}

// Host is a tracked site. TrackingID is what the beacon sends as hostId.
type Host struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	Hostname   string    `json:"hostname"`
	TrackingID string    `json:"tracking_id"`
	CreatedAt  time.Time `json:"created_at"`
}

const uniqueViolation = "23505"

// Store reads and writes the users and hosts tables.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "host-store"),
	}
}

// UpsertUser inserts u or refreshes the profile fields of the existing row
// with the same GitHub id. The returned User carries the database id.
func (s *Store) UpsertUser(ctx context.Context, u User) (User, error) {
	err := s.db.DB.QueryRowContext(ctx,
		`INSERT INTO users (github_id, login, name, avatar_url)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (github_id) DO UPDATE
		 SET login = EXCLUDED.login, name = EXCLUDED.name, avatar_url = EXCLUDED.avatar_url
		 RETURNING id, created_at`,
		u.GitHubID, u.Login, u.Name, u.AvatarURL,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("upserting user %s: %w", u.Login, err)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (User, error) {
	var u User
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT id, github_id, login, name, avatar_url, created_at FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.GitHubID, &u.Login, &u.Name, &u.AvatarURL, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, apperrors.ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("querying user %d: %w", id, err)
	}
	return u, nil
}

// CreateHost registers hostname for userID with a fresh tracking id.
// hostname is normalized first; a hostname registered by anyone already
// yields ErrHostExists.
func (s *Store) CreateHost(ctx context.Context, userID int64, hostname string) (Host, error) {
	name, err := NormalizeHostname(hostname)
	if err != nil {
		return Host{}, err
	}
	h := Host{UserID: userID, Hostname: name, TrackingID: newTrackingID()}
	err = s.db.DB.QueryRowContext(ctx,
		`INSERT INTO hosts (user_id, hostname, tracking_id) VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		h.UserID, h.Hostname, h.TrackingID,
	).Scan(&h.ID, &h.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return Host{}, apperrors.ErrHostExists
		}
		return Host{}, fmt.Errorf("creating host %s: %w", name, err)
	}
	s.logger.Info("host registered", "hostname", name, "user_id", userID)
	return h, nil
}

func (s *Store) ListHostsByUser(ctx context.Context, userID int64) ([]Host, error) {
	return s.listHosts(ctx,
		`SELECT id, user_id, hostname, tracking_id, created_at FROM hosts WHERE user_id = $1 ORDER BY hostname`,
		userID,
	)
}

// ListHostnames returns every registered hostname.
func (s *Store) ListHostnames(ctx context.Context) ([]string, error) {
	all, err := s.listHosts(ctx,
		`SELECT id, user_id, hostname, tracking_id, created_at FROM hosts ORDER BY hostname`,
	)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(all))
	for i, h := range all {
		names[i] = h.Hostname
	}
	return names, nil
}

func (s *Store) GetHostByName(ctx context.Context, hostname string) (Host, error) {
	return s.getHost(ctx,
		`SELECT id, user_id, hostname, tracking_id, created_at FROM hosts WHERE hostname = $1`,
		hostname,
	)
}

func (s *Store) HostByTrackingID(ctx context.Context, trackingID string) (Host, error) {
	return s.getHost(ctx,
		`SELECT id, user_id, hostname, tracking_id, created_at FROM hosts WHERE tracking_id = $1`,
		trackingID,
	)
}

// DeleteHost removes hostname if it belongs to userID and returns the
// deleted row.
func (s *Store) DeleteHost(ctx context.Context, userID int64, hostname string) (Host, error) {
	h, err := s.getHost(ctx,
		`DELETE FROM hosts WHERE user_id = $1 AND hostname = $2
		 RETURNING id, user_id, hostname, tracking_id, created_at`,
		userID, hostname,
	)
	if err != nil {
		return Host{}, err
	}
	s.logger.Info("host deleted", "hostname", hostname, "user_id", userID)
	return h, nil
}

func (s *Store) getHost(ctx context.Context, query string, args ...any) (Host, error) {
	var h Host
	err := s.db.DB.QueryRowContext(ctx, query, args...).
		Scan(&h.ID, &h.UserID, &h.Hostname, &h.TrackingID, &h.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Host{}, apperrors.ErrNotFound
	}
	if err != nil {
		return Host{}, fmt.Errorf("querying host: %w", err)
	}
	return h, nil
}

func (s *Store) listHosts(ctx context.Context, query string, args ...any) ([]Host, error) {
	rows, err := s.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing hosts: %w", err)
	}
	defer rows.Close()

	var out []Host
	for rows.Next() {
		var h Host
		if err := rows.Scan(&h.ID, &h.UserID, &h.Hostname, &h.TrackingID, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning host row: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// newTrackingID returns 16 random bytes, hex-encoded.
func newTrackingID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
