// Package dashboard serves the signed-in site owner's pages: the host list,
// host registration, and the live view of each host.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"io/fs"
	"net/http"
	"strings"

	"github.com/umrum/umrum/internal/auth"
	"github.com/umrum/umrum/internal/hosts"
	"github.com/umrum/umrum/internal/tracker"
	apperrors "github.com/umrum/umrum/pkg/errors"
	"github.com/umrum/umrum/pkg/logger"
)

// Directory is the part of the host directory the dashboard uses.
type Directory interface {
	CreateHost(ctx context.Context, userID int64, hostname string) (hosts.Host, error)
	ListHostsByUser(ctx context.Context, userID int64) ([]hosts.Host, error)
	GetHostByName(ctx context.Context, hostname string) (hosts.Host, error)
	DeleteHost(ctx context.Context, userID int64, hostname string) (hosts.Host, error)
}

// LiveReader reads live host info from the tracking store.
type LiveReader interface {
	GetHostInfo(ctx context.Context, host string) (tracker.HostInfo, error)
	GetHostInfos(ctx context.Context, hosts []string) ([]tracker.HostSnapshot, error)
}

// TrackingCache is told when a tracking id stops being valid.
type TrackingCache interface {
	Forget(trackingID string)
}

type Options struct {
	// PublicURL is the externally visible base URL used in tracking snippets.
	PublicURL string
	Cache     TrackingCache
}

type Handler struct {
	dir    Directory
	live   LiveReader
	opts   Options
	pages  map[string]*template.Template
	static fs.FS
}

func New(dir Directory, live LiveReader, opts Options) (*Handler, error) {
	pages, err := parsePages()
	if err != nil {
		return nil, err
	}
	static, err := staticFiles()
	if err != nil {
		return nil, err
	}
	opts.PublicURL = strings.TrimSuffix(opts.PublicURL, "/")
	return &Handler{
		dir:    dir,
		live:   live,
		opts:   opts,
		pages:  pages,
		static: static,
	}, nil
}

// Register adds the page routes, the static assets and the catch-all 404.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.Index)
	mux.Handle("GET /dashboard", auth.RequireUser(http.HandlerFunc(h.List)))
	mux.Handle("POST /dashboard/create", auth.RequireUser(http.HandlerFunc(h.Create)))
	mux.Handle("GET /dashboard/{host}", auth.RequireUser(http.HandlerFunc(h.Show)))
	mux.Handle("GET /dashboard/{host}/info", auth.RequireUser(http.HandlerFunc(h.Info)))
	mux.Handle("POST /dashboard/{host}/delete", auth.RequireUser(http.HandlerFunc(h.Delete)))
	mux.Handle("GET /assets/", http.StripPrefix("/assets/", http.FileServerFS(h.static)))
	mux.HandleFunc("/", h.NotFound)
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "index", pageData{})
}

func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.renderError(w, r, http.StatusNotFound, "There is nothing at "+r.URL.Path+".")
}

// List shows the user's hosts with their current visit counts.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	h.renderList(w, r, http.StatusOK, "", "")
}

func (h *Handler) renderList(w http.ResponseWriter, r *http.Request, status int, formErr, hostname string) {
	ctx := r.Context()
	sess, _ := auth.SessionFromContext(ctx)

	owned, err := h.dir.ListHostsByUser(ctx, sess.UserID)
	if err != nil {
		logger.FromContext(ctx).Error("listing hosts failed", "user_id", sess.UserID, "error", err)
		h.renderError(w, r, http.StatusServiceUnavailable, "Your hosts could not be loaded. Try again shortly.")
		return
	}

	names := make([]string, len(owned))
	for i, host := range owned {
		names[i] = host.Hostname
	}
	snaps, err := h.live.GetHostInfos(ctx, names)
	if err != nil {
		logger.FromContext(ctx).Warn("reading live counts failed", "user_id", sess.UserID, "error", err)
	}

	rows := make([]hostRow, len(snaps))
	for i, s := range snaps {
		rows[i] = hostRow{Hostname: s.Host, CurrentVisits: s.Info.CurrentVisits, Err: s.Err}
	}
	h.render(w, r, status, "dashboard", pageData{Hosts: rows, Error: formErr, Hostname: hostname})
}

// Create registers the posted hostname and redirects to its page.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, _ := auth.SessionFromContext(ctx)
	name := strings.TrimSpace(r.FormValue("hostname"))

	host, err := h.dir.CreateHost(ctx, sess.UserID, name)
	switch {
	case err == nil:
	case errors.Is(err, hosts.ErrInvalidHostname):
		h.renderList(w, r, http.StatusBadRequest, "\""+name+"\" is not a valid hostname.", name)
		return
	case errors.Is(err, apperrors.ErrHostExists):
		h.renderList(w, r, http.StatusConflict, name+" is already registered.", name)
		return
	default:
		logger.FromContext(ctx).Error("creating host failed", "hostname", name, "error", err)
		h.renderError(w, r, http.StatusServiceUnavailable, "The host could not be registered. Try again shortly.")
		return
	}
	http.Redirect(w, r, "/dashboard/"+host.Hostname, http.StatusSeeOther)
}

// Show renders the live view of one host. A failed read still renders what
// resolved, under a warning banner.
func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	host, err := h.ownedHost(ctx, r.PathValue("host"))
	if err != nil {
		h.renderLookupError(w, r, err)
		return
	}

	data := pageData{Host: host, PublicURL: h.opts.PublicURL}
	data.Info, err = h.live.GetHostInfo(ctx, host.Hostname)
	if err != nil {
		logger.FromContext(ctx).Warn("reading host info failed", "hostname", host.Hostname, "error", err)
		data.ReadError = "the tracking store did not answer"
	}
	h.render(w, r, http.StatusOK, "host", data)
}

// infoResponse is the polling payload. Error is null when every read
// succeeded.
type infoResponse struct {
	CurrentVisits tracker.VisitCount  `json:"currentVisits"`
	TopPages      []tracker.PageScore `json:"topPages"`
	Error         *string             `json:"error"`
}

// Info returns the host's HostInfo as JSON for live polling.
func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	host, err := h.ownedHost(ctx, r.PathValue("host"))
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, apperrors.ErrNotFound) {
			status = http.StatusNotFound
		} else {
			logger.FromContext(ctx).Error("host lookup failed", "error", err)
		}
		writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
		return
	}

	info, err := h.live.GetHostInfo(ctx, host.Hostname)
	resp := infoResponse{CurrentVisits: info.CurrentVisits, TopPages: info.TopPages}
	if err != nil {
		logger.FromContext(ctx).Warn("reading host info failed", "hostname", host.Hostname, "error", err)
		msg := "tracking store unavailable"
		resp.Error = &msg
	}
	writeJSON(w, http.StatusOK, resp)
}

// Delete removes the host and invalidates its tracking id.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, _ := auth.SessionFromContext(ctx)

	host, err := h.dir.DeleteHost(ctx, sess.UserID, strings.ToLower(r.PathValue("host")))
	if err != nil {
		h.renderLookupError(w, r, err)
		return
	}
	if h.opts.Cache != nil {
		h.opts.Cache.Forget(host.TrackingID)
	}
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// ownedHost loads hostname and checks it belongs to the signed-in user.
// Hosts owned by someone else are reported as ErrNotFound.
func (h *Handler) ownedHost(ctx context.Context, hostname string) (hosts.Host, error) {
	sess, _ := auth.SessionFromContext(ctx)
	host, err := h.dir.GetHostByName(ctx, strings.ToLower(hostname))
	if err != nil {
		return hosts.Host{}, err
	}
	if host.UserID != sess.UserID {
		return hosts.Host{}, apperrors.ErrNotFound
	}
	return host, nil
}

func (h *Handler) renderLookupError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, apperrors.ErrNotFound) {
		h.NotFound(w, r)
		return
	}
	logger.FromContext(r.Context()).Error("host lookup failed", "error", err)
	h.renderError(w, r, http.StatusServiceUnavailable, "The host directory is unavailable. Try again shortly.")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
