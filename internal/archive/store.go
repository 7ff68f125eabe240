// Package archive keeps a durable history of beacon traffic in PostgreSQL:
// daily page-view totals fed from Kafka, and periodic snapshots of the live
// visit counters.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/umrum/umrum/pkg/postgres"
)

// PageViews is the number of pings one path received on one UTC day.
type PageViews struct {
	Day      time.Time `json:"day"`
	Hostname string    `json:"hostname"`
	Path     string    `json:"path"`
	Views    int64     `json:"views"`
}

// Snapshot is a host's live visit counter at one instant.
type Snapshot struct {
	ID            int64     `json:"id"`
	Hostname      string    `json:"hostname"`
	CurrentVisits int64     `json:"current_visits"`
	CapturedAt    time.Time `json:"captured_at"`
}

// Store reads and writes the page_views_daily and visit_snapshots tables.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "archive-store"),
	}
}

// IncrementPageView adds one view of path on hostname for day.
func (s *Store) IncrementPageView(ctx context.Context, day time.Time, hostname, path string) error {
	_, err := s.db.DB.ExecContext(ctx,
		`INSERT INTO page_views_daily (day, hostname, path, views) VALUES ($1, $2, $3, 1)
		 ON CONFLICT (day, hostname, path) DO UPDATE SET views = page_views_daily.views + 1`,
		day.UTC().Format(time.DateOnly), hostname, path,
	)
	if err != nil {
		return fmt.Errorf("incrementing page views for %s%s: %w", hostname, path, err)
	}
	return nil
}

// InsertSnapshots writes snaps in a single transaction.
func (s *Store) InsertSnapshots(ctx context.Context, snaps []Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO visit_snapshots (hostname, current_visits, captured_at) VALUES ($1, $2, $3)`,
		)
		if err != nil {
			return fmt.Errorf("preparing snapshot insert: %w", err)
		}
		defer stmt.Close()

		for _, snap := range snaps {
			if _, err := stmt.ExecContext(ctx, snap.Hostname, snap.CurrentVisits, snap.CapturedAt.UTC()); err != nil {
				return fmt.Errorf("inserting snapshot for %s: %w", snap.Hostname, err)
			}
		}
		return nil
	})
}

// PruneSnapshots deletes snapshots captured before cutoff and returns how
// many were removed.
func (s *Store) PruneSnapshots(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.DB.ExecContext(ctx,
		`DELETE FROM visit_snapshots WHERE captured_at < $1`,
		cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned snapshots: %w", err)
	}
	return n, nil
}

// TopPagesForDay returns hostname's most viewed paths on day, most viewed
// first.
func (s *Store) TopPagesForDay(ctx context.Context, hostname string, day time.Time, limit int) ([]PageViews, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT day, hostname, path, views FROM page_views_daily
		 WHERE hostname = $1 AND day = $2
		 ORDER BY views DESC, path
		 LIMIT $3`,
		hostname, day.UTC().Format(time.DateOnly), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying page views for %s: %w", hostname, err)
	}
	defer rows.Close()

	var out []PageViews
	for rows.Next() {
		var pv PageViews
		if err := rows.Scan(&pv.Day, &pv.Hostname, &pv.Path, &pv.Views); err != nil {
			return nil, fmt.Errorf("scanning page views row: %w", err)
		}
		out = append(out, pv)
	}
	return out, rows.Err()
}

// SnapshotsForHost returns the last limit snapshots of hostname, newest
// first.
func (s *Store) SnapshotsForHost(ctx context.Context, hostname string, limit int) ([]Snapshot, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT id, hostname, current_visits, captured_at FROM visit_snapshots
		 WHERE hostname = $1
		 ORDER BY captured_at DESC
		 LIMIT $2`,
		hostname, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots for %s: %w", hostname, err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		if err := rows.Scan(&snap.ID, &snap.Hostname, &snap.CurrentVisits, &snap.CapturedAt); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
