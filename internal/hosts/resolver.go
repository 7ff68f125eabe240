package hosts

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/umrum/umrum/pkg/errors"
)

// Lookup finds a host by tracking id. *Store implements it.
type Lookup interface {
	HostByTrackingID(ctx context.Context, trackingID string) (Host, error)
}

// ResolverOptions sizes the resolver caches. Zero values take defaults.
type ResolverOptions struct {
	Size          int
	TTL           time.Duration
	NegativeTTL   time.Duration
	// LookupTimeout bounds one shared directory query.
	LookupTimeout time.Duration
}

// Resolver maps beacon tracking ids to hostnames. Hits and misses are cached
// in separate expiring LRUs, and concurrent lookups of the same id share one
// database query.
type Resolver struct {
	lookup  Lookup
	hits    *expirable.LRU[string, string]
	misses  *expirable.LRU[string, struct{}]
	group   singleflight.Group
	timeout time.Duration
	logger  *slog.Logger
}

func NewResolver(lookup Lookup, opts ResolverOptions) *Resolver {
	if opts.Size <= 0 {
		opts.Size = 10000
	}
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Minute
	}
	if opts.NegativeTTL <= 0 {
		opts.NegativeTTL = 30 * time.Second
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = 2 * time.Second
	}
	return &Resolver{
		lookup:  lookup,
		hits:    expirable.NewLRU[string, string](opts.Size, nil, opts.TTL),
		misses:  expirable.NewLRU[string, struct{}](opts.Size, nil, opts.NegativeTTL),
		timeout: opts.LookupTimeout,
		logger:  slog.Default().With("component", "host-resolver"),
	}
}

// Resolve returns the hostname registered under trackingID. Unknown ids
// yield ErrNotFound; directory failures are wrapped in ErrStoreUnavailable.
//
// Concurrent misses share one lookup that is detached from any caller's
// cancellation, so a caller that goes away does not fail the others. Each
// caller still stops waiting when its own ctx is done.
func (r *Resolver) Resolve(ctx context.Context, trackingID string) (string, error) {
	if !validTrackingID(trackingID) {
		return "", apperrors.ErrNotFound
	}
	if host, ok := r.hits.Get(trackingID); ok {
		return host, nil
	}
	if _, ok := r.misses.Get(trackingID); ok {
		return "", apperrors.ErrNotFound
	}

	ch := r.group.DoChan(trackingID, func() (interface{}, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		h, err := r.lookup.HostByTrackingID(lctx, trackingID)
		if errors.Is(err, apperrors.ErrNotFound) {
			r.misses.Add(trackingID, struct{}{})
			return "", err
		}
		if err != nil {
			r.logger.Error("tracking id lookup failed", "error", err)
			return "", apperrors.Unavailable("resolving tracking id", err)
		}
		r.hits.Add(trackingID, h.Hostname)
		return h.Hostname, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Forget drops trackingID from both caches, e.g. after its host is deleted.
func (r *Resolver) Forget(trackingID string) {
	r.hits.Remove(trackingID)
	r.misses.Remove(trackingID)
}

func validTrackingID(id string) bool {
	if len(id) != 32 {
		return false
	}
	for _, c := range id {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
