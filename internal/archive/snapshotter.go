package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/umrum/umrum/internal/tracker"
)

// HostLister lists every registered hostname.
type HostLister interface {
	ListHostnames(ctx context.Context) ([]string, error)
}

// LiveReader reads the live visit counters of many hosts at once.
type LiveReader interface {
	GetVisitCounts(ctx context.Context, hosts []string) ([]tracker.HostCount, error)
}

// SnapshotWriter stores and expires snapshots.
type SnapshotWriter interface {
	InsertSnapshots(ctx context.Context, snaps []Snapshot) error
	PruneSnapshots(ctx context.Context, cutoff time.Time) (int64, error)
}

// SnapshotterOptions configures the schedules. Zero values take defaults.
type SnapshotterOptions struct {
	Schedule      string
	PruneSchedule string
	Retention     time.Duration
	// Timeout bounds one capture or prune run.
	Timeout time.Duration
}

func (o *SnapshotterOptions) setDefaults() {
	if o.Schedule == "" {
		o.Schedule = "@every 1m"
	}
	if o.PruneSchedule == "" {
		o.PruneSchedule = "@daily"
	}
	if o.Retention <= 0 {
		o.Retention = 30 * 24 * time.Hour
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
}

// Snapshotter periodically records the live visit counter of every
// registered host and prunes snapshots past retention.
type Snapshotter struct {
	hosts  HostLister
	live   LiveReader
	store  SnapshotWriter
	opts   SnapshotterOptions
	cron   *cron.Cron
	now    func() time.Time
	logger *slog.Logger
}

// NewSnapshotter validates the schedules and registers the jobs. Nothing
// runs until Start.
func NewSnapshotter(hosts HostLister, live LiveReader, store SnapshotWriter, opts SnapshotterOptions) (*Snapshotter, error) {
	opts.setDefaults()
	s := &Snapshotter{
		hosts:  hosts,
		live:   live,
		store:  store,
		opts:   opts,
		cron:   cron.New(cron.WithLocation(time.UTC)),
		now:    time.Now,
		logger: slog.Default().With("component", "snapshotter"),
	}
	if _, err := s.cron.AddFunc(opts.Schedule, s.runCapture); err != nil {
		return nil, fmt.Errorf("parsing snapshot schedule %q: %w", opts.Schedule, err)
	}
	if _, err := s.cron.AddFunc(opts.PruneSchedule, s.runPrune); err != nil {
		return nil, fmt.Errorf("parsing prune schedule %q: %w", opts.PruneSchedule, err)
	}
	return s, nil
}

func (s *Snapshotter) Start() {
	s.logger.Info("snapshotter started",
		"schedule", s.opts.Schedule,
		"prune_schedule", s.opts.PruneSchedule,
		"retention", s.opts.Retention,
	)
	s.cron.Start()
}

// Stop stops scheduling and waits for a running job, or for ctx.
func (s *Snapshotter) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Capture takes one snapshot round from the host counters alone. Hosts that
// were never measured, or whose counter read failed, are skipped. It returns
// how many snapshots were written; a read failure on some hosts is logged,
// not returned.
func (s *Snapshotter) Capture(ctx context.Context) (int, error) {
	names, err := s.hosts.ListHostnames(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing hosts: %w", err)
	}
	if len(names) == 0 {
		return 0, nil
	}

	results, err := s.live.GetVisitCounts(ctx, names)
	if err != nil {
		s.logger.Warn("some live counts could not be read", "error", err)
	}

	capturedAt := s.now().UTC()
	snaps := make([]Snapshot, 0, len(results))
	for _, r := range results {
		n, ok := r.CurrentVisits.Get()
		if !ok {
			continue
		}
		snaps = append(snaps, Snapshot{Hostname: r.Host, CurrentVisits: n, CapturedAt: capturedAt})
	}
	if err := s.store.InsertSnapshots(ctx, snaps); err != nil {
		return 0, err
	}
	return len(snaps), nil
}

// Prune deletes snapshots older than the retention window.
func (s *Snapshotter) Prune(ctx context.Context) (int64, error) {
	return s.store.PruneSnapshots(ctx, s.now().Add(-s.opts.Retention))
}

func (s *Snapshotter) runCapture() {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
	defer cancel()
	n, err := s.Capture(ctx)
	if err != nil {
		s.logger.Error("snapshot capture failed", "error", err)
		return
	}
	s.logger.Debug("snapshots captured", "count", n)
}

func (s *Snapshotter) runPrune() {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
	defer cancel()
	n, err := s.Prune(ctx)
	if err != nil {
		s.logger.Error("snapshot prune failed", "error", err)
		return
	}
	s.logger.Info("snapshots pruned", "count", n)
}
