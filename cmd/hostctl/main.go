package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/umrum/umrum/internal/archive"
	"github.com/umrum/umrum/internal/hosts"
	"github.com/umrum/umrum/internal/tracker"
	"github.com/umrum/umrum/pkg/config"
	apperrors "github.com/umrum/umrum/pkg/errors"
	"github.com/umrum/umrum/pkg/logger"
	"github.com/umrum/umrum/pkg/postgres"
	pkgredis "github.com/umrum/umrum/pkg/redis"
)

// hostctl is an operator CLI for the host directory and the archive.
//
// Usage:
//
//	hostctl list      [--user 7]
//	hostctl create    --user 7 --hostname example.com
//	hostctl delete    --user 7 --hostname example.com
//	hostctl live      --hostname example.com
//	hostctl top       --hostname example.com [--day 2024-03-10] [--limit 10]
//	hostctl snapshots --hostname example.com [--limit 20]
func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store := hosts.NewStore(db)
	ctx := context.Background()

	switch args[0] {
	case "list":
		err = cmdList(ctx, store, args[1:])
	case "create":
		err = cmdCreate(ctx, store, args[1:])
	case "delete":
		err = cmdDelete(ctx, store, args[1:])
	case "live":
		err = cmdLive(ctx, cfg, args[1:])
	case "top":
		err = cmdTop(ctx, archive.NewStore(db), args[1:])
	case "snapshots":
		err = cmdSnapshots(ctx, archive.NewStore(db), args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", args[0], err)
		os.Exit(1)
	}
}

func cmdList(ctx context.Context, store *hosts.Store, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	userID := fs.Int64("user", 0, "only hosts owned by this user id")
	fs.Parse(args)

	if *userID == 0 {
		names, err := store.ListHostnames(ctx)
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Println(n)
		}
		fmt.Printf("\nTotal: %d host(s)\n", len(names))
		return nil
	}

	owned, err := store.ListHostsByUser(ctx, *userID)
	if err != nil {
		return err
	}
	if len(owned) == 0 {
		fmt.Println("No hosts registered.")
		return nil
	}
	fmt.Printf("%-40s  %-32s  %s\n", "Hostname", "Tracking ID", "Created")
	fmt.Println("----------------------------------------  --------------------------------  -------------------------")
	for _, h := range owned {
		fmt.Printf("%-40s  %-32s  %s\n", h.Hostname, h.TrackingID, h.CreatedAt.Format(time.RFC3339))
	}
	fmt.Printf("\nTotal: %d host(s)\n", len(owned))
	return nil
}

func cmdCreate(ctx context.Context, store *hosts.Store, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	userID := fs.Int64("user", 0, "owner user id")
	hostname := fs.String("hostname", "", "hostname to register")
	fs.Parse(args)

	if *userID == 0 || *hostname == "" {
		return errors.New("--user and --hostname are required")
	}
	if _, err := store.GetUser(ctx, *userID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("no user with id %d; users are created on first sign-in", *userID)
		}
		return err
	}

	h, err := store.CreateHost(ctx, *userID, *hostname)
	if err != nil {
		return err
	}
	fmt.Println("Host registered.")
	fmt.Println()
	fmt.Printf("  Hostname:    %s\n", h.Hostname)
	fmt.Printf("  Tracking ID: %s\n", h.TrackingID)
	return nil
}

func cmdDelete(ctx context.Context, store *hosts.Store, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	userID := fs.Int64("user", 0, "owner user id")
	hostname := fs.String("hostname", "", "hostname to delete")
	fs.Parse(args)

	if *userID == 0 || *hostname == "" {
		return errors.New("--user and --hostname are required")
	}
	h, err := store.DeleteHost(ctx, *userID, *hostname)
	if err != nil {
		return err
	}
	fmt.Printf("Host %s deleted. Running servers stop accepting tracking id %s once their cache entry expires.\n",
		h.Hostname, h.TrackingID)
	return nil
}

func cmdLive(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("live", flag.ExitOnError)
	hostname := fs.String("hostname", "", "hostname to read")
	fs.Parse(args)

	if *hostname == "" {
		return errors.New("--hostname is required")
	}

	rdb, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()
	t := tracker.New(rdb, tracker.Options{Workers: 1, TopPagesLimit: cfg.Tracker.TopPagesLimit})
	defer t.Close()

	info, err := t.GetHostInfo(ctx, *hostname)
	fmt.Printf("Current visits: %s\n", info.CurrentVisits)
	switch {
	case info.TopPages == nil:
		fmt.Println("Top pages:      not read")
	case len(info.TopPages) == 0:
		fmt.Println("Top pages:      none")
	default:
		fmt.Println("Top pages:")
		for _, p := range info.TopPages {
			fmt.Printf("  %6d  %s\n", p.Score, p.Path)
		}
	}
	return err
}

func cmdTop(ctx context.Context, store *archive.Store, args []string) error {
	fs := flag.NewFlagSet("top", flag.ExitOnError)
	hostname := fs.String("hostname", "", "hostname to report on")
	day := fs.String("day", time.Now().UTC().Format(time.DateOnly), "UTC day, YYYY-MM-DD")
	limit := fs.Int("limit", 10, "number of paths")
	fs.Parse(args)

	if *hostname == "" {
		return errors.New("--hostname is required")
	}
	d, err := time.Parse(time.DateOnly, *day)
	if err != nil {
		return fmt.Errorf("invalid --day: %w", err)
	}

	pages, err := store.TopPagesForDay(ctx, *hostname, d, *limit)
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		fmt.Printf("No page views archived for %s on %s.\n", *hostname, *day)
		return nil
	}
	fmt.Printf("%-10s  %s\n", "Views", "Path")
	for _, p := range pages {
		fmt.Printf("%-10d  %s\n", p.Views, p.Path)
	}
	return nil
}

func cmdSnapshots(ctx context.Context, store *archive.Store, args []string) error {
	fs := flag.NewFlagSet("snapshots", flag.ExitOnError)
	hostname := fs.String("hostname", "", "hostname to report on")
	limit := fs.Int("limit", 20, "number of snapshots")
	fs.Parse(args)

	if *hostname == "" {
		return errors.New("--hostname is required")
	}
	snaps, err := store.SnapshotsForHost(ctx, *hostname, *limit)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Printf("No snapshots for %s.\n", *hostname)
		return nil
	}
	fmt.Printf("%-25s  %s\n", "Captured", "Current visits")
	for _, s := range snaps {
		fmt.Printf("%-25s  %d\n", s.CapturedAt.Format(time.RFC3339), s.CurrentVisits)
	}
	return nil
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: hostctl <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  list        List registered hosts")
	fmt.Fprintln(os.Stderr, "  create      Register a host for a user")
	fmt.Fprintln(os.Stderr, "  delete      Delete a user's host")
	fmt.Fprintln(os.Stderr, "  live        Show a host's live visits and top pages")
	fmt.Fprintln(os.Stderr, "  top         Show a host's archived top pages for a day")
	fmt.Fprintln(os.Stderr, "  snapshots   Show a host's recent visit snapshots")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Examples:")
	fmt.Fprintln(os.Stderr, `  hostctl create --user 7 --hostname example.com`)
	fmt.Fprintln(os.Stderr, `  hostctl top --hostname example.com --day 2024-03-10`)
}
