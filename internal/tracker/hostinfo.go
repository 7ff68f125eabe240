package tracker

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"golang.org/x/sync/errgroup"
)

// hostInfoConcurrency bounds the reads GetHostInfos keeps in flight.
const hostInfoConcurrency = 8

// GetHostInfo reads the live view of host.
//
// The counter is read first. When it is absent (never measured) or the read
// fails, the top-pages query is not issued and TopPages stays nil. Otherwise
// the top pages are read; an empty result yields an empty, non-nil slice.
//
// On failure the returned HostInfo still carries every field that resolved,
// together with the first error encountered.
func (t *Tracker) GetHostInfo(ctx context.Context, host string) (HostInfo, error) {
	var info HostInfo

	count, err := t.GetVisitCount(ctx, host)
	if err != nil {
		t.metrics.HostInfoRead("error")
		return info, err
	}
	if !count.IsMeasured() {
		t.metrics.HostInfoRead("never_measured")
		return info, nil
	}
	info.CurrentVisits = count

	members, err := t.store.ReadSortedSetTopN(ctx, topPagesKey(host), t.opts.TopPagesLimit)
	if err != nil {
		t.metrics.HostInfoRead("error")
		return info, fmt.Errorf("reading top pages for %s: %w", host, err)
	}
	info.TopPages = make([]PageScore, 0, len(members))
	for _, m := range members {
		info.TopPages = append(info.TopPages, PageScore{
			Path:  m.Member,
			Score: int64(math.Round(m.Score)),
		})
	}
	t.metrics.HostInfoRead("measured")
	return info, nil
}

// GetVisitCount reads only the host counter. A counter that was never
// written yields NeverMeasured.
func (t *Tracker) GetVisitCount(ctx context.Context, host string) (VisitCount, error) {
	raw, ok, err := t.store.ReadHashField(ctx, hostKey(host), currentVisitsField)
	if err != nil {
		return NeverMeasured(), fmt.Errorf("reading visit counter for %s: %w", host, err)
	}
	if !ok {
		return NeverMeasured(), nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return NeverMeasured(), fmt.Errorf("parsing visit counter for %s: %w", host, err)
	}
	return Measured(n), nil
}

// GetVisitCounts reads the counters of many hosts concurrently, without
// touching their top pages. Like GetHostInfos it waits for every read and
// returns the first error.
func (t *Tracker) GetVisitCounts(ctx context.Context, hosts []string) ([]HostCount, error) {
	counts := make([]HostCount, len(hosts))
	var g errgroup.Group
	g.SetLimit(hostInfoConcurrency)
	for i, host := range hosts {
		g.Go(func() error {
			n, err := t.GetVisitCount(ctx, host)
			counts[i] = HostCount{Host: host, CurrentVisits: n, Err: err}
			return err
		})
	}
	err := g.Wait()
	return counts, err
}

// GetHostInfos reads many hosts concurrently and returns once every read has
// settled, in the order of hosts. Each snapshot carries its own partial result
// and error; the returned error is the first one encountered. A failing host
// does not cancel the others.
func (t *Tracker) GetHostInfos(ctx context.Context, hosts []string) ([]HostSnapshot, error) {
	snapshots := make([]HostSnapshot, len(hosts))
	var g errgroup.Group
	g.SetLimit(hostInfoConcurrency)
	for i, host := range hosts {
		g.Go(func() error {
			info, err := t.GetHostInfo(ctx, host)
			snapshots[i] = HostSnapshot{Host: host, Info: info, Err: err}
			return err
		})
	}
	err := g.Wait()
	return snapshots, err
}
