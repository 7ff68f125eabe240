// Package beacon serves the tracking endpoints that tracked pages call when
// a page view opens (ping) and closes (disconnect).
package beacon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/umrum/umrum/internal/events"
	"github.com/umrum/umrum/internal/tracker"
	apperrors "github.com/umrum/umrum/pkg/errors"
	"github.com/umrum/umrum/pkg/logger"
	"github.com/umrum/umrum/pkg/metrics"
	"github.com/umrum/umrum/pkg/middleware"
)

// PageViews is the write side of the visit tracker.
type PageViews interface {
	RegisterPageView(view tracker.ActiveView)
	RemovePageView(view tracker.ActiveView)
}

// HostResolver maps a tracking id to the registered hostname.
type HostResolver interface {
	Resolve(ctx context.Context, trackingID string) (string, error)
}

// EventSink receives a copy of every accepted beacon call.
type EventSink interface {
	Track(ev events.BeaconEvent)
}

// Options holds the optional collaborators of a Handler.
type Options struct {
	Events            EventSink
	Limiter           *Limiter
	Metrics           *metrics.Metrics
	TrustForwardedFor bool
}

type Handler struct {
	views    PageViews
	resolver HostResolver
	opts     Options
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func New(views PageViews, resolver HostResolver, opts Options) *Handler {
	return &Handler{
		views:    views,
		resolver: resolver,
		opts:     opts,
		metrics:  opts.Metrics,
		logger:   slog.Default().With("component", "beacon-handler"),
	}
}

// Register mounts the beacon routes on mux behind permissive CORS.
func (h *Handler) Register(mux *http.ServeMux) {
	cors := middleware.CORS(middleware.BeaconCORSConfig())
	mux.Handle("GET /api/ping", cors(http.HandlerFunc(h.Ping)))
	mux.Handle("GET /api/disconnect", cors(http.HandlerFunc(h.Disconnect)))
	mux.Handle("OPTIONS /api/", cors(http.NotFoundHandler()))
}

// Ping registers an open page view.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, events.ActionPing)
}

// Disconnect removes a page view registered by Ping.
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, events.ActionDisconnect)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, action events.Action) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	if !h.opts.Limiter.Allow(h.clientIP(r)) {
		h.metrics.Beacon(string(action), "rate_limited")
		w.Header().Set("Retry-After", "60")
		h.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	req, err := ParseRequest(r)
	if err != nil {
		h.metrics.Beacon(string(action), "invalid")
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	host, err := h.resolver.Resolve(ctx, req.TrackingID)
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		if errors.Is(err, apperrors.ErrNotFound) {
			h.metrics.Beacon(string(action), "unknown_host")
			h.writeError(w, status, "unknown hostId")
			return
		}
		h.metrics.Beacon(string(action), "error")
		log.Error("resolving tracking id failed", "error", err, "status_code", status)
		h.writeError(w, status, "host directory unavailable")
		return
	}

	view := tracker.ActiveView{ID: req.VisitorID, Host: host, Path: req.Path}
	if action == events.ActionPing {
		h.views.RegisterPageView(view)
	} else {
		h.views.RemovePageView(view)
	}
	if h.opts.Events != nil {
		h.opts.Events.Track(events.BeaconEvent{
			Action:    action,
			Host:      host,
			Path:      req.Path,
			VisitorID: req.VisitorID,
			RequestID: logger.RequestID(ctx),
			Timestamp: time.Now().UTC(),
		})
	}
	h.metrics.Beacon(string(action), "ok")
	log.Debug("beacon accepted", "action", action, "host", host, "path", req.Path)

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pixel)
}

func (h *Handler) clientIP(r *http.Request) string {
	if h.opts.TrustForwardedFor {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// pixel is a 1x1 transparent GIF.
var pixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00,
	0x00, 0x00, 0x00, 0xff, 0xff, 0xff,
	0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00,
	0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00,
	0x02, 0x02, 0x44, 0x01, 0x00,
	0x3b,
}
