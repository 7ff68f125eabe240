package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/umrum/umrum/internal/hosts"
	"github.com/umrum/umrum/pkg/config"
	"github.com/umrum/umrum/pkg/logger"
)

const stateCookie = "umrum_oauth_state"

// Authenticator runs the provider side of the sign-in flow.
type Authenticator interface {
	AuthCodeURL(state string) string
	Authenticate(ctx context.Context, code string) (Identity, error)
}

// UserStore persists the signed-in account.
type UserStore interface {
	UpsertUser(ctx context.Context, u hosts.User) (hosts.User, error)
}

// Handler serves /signin, the OAuth callback and /signout.
type Handler struct {
	provider Authenticator
	users    UserStore
	sessions *Sessions
	cfg      config.SessionConfig
	logger   *slog.Logger
}

func NewHandler(provider Authenticator, users UserStore, sessions *Sessions, cfg config.SessionConfig) *Handler {
	return &Handler{
		provider: provider,
		users:    users,
		sessions: sessions,
		cfg:      cfg,
		logger:   slog.Default().With("component", "auth-handler"),
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /signin", h.SignIn)
	mux.HandleFunc("GET /auth/github/callback", h.Callback)
	mux.HandleFunc("GET /signout", h.SignOut)
}

// SignIn redirects to GitHub with a fresh state value, remembered in a
// short-lived cookie.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	state := randomState()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/auth/github",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.provider.AuthCodeURL(state), http.StatusFound)
}

// Callback completes the flow: it checks state, resolves the GitHub user,
// upserts it and starts a session.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	c, err := r.Cookie(stateCookie)
	state := r.URL.Query().Get("state")
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(c.Value), []byte(state)) != 1 {
		http.Error(w, "invalid oauth state", http.StatusBadRequest)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/auth/github", MaxAge: -1})

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing authorization code", http.StatusBadRequest)
		return
	}

	id, err := h.provider.Authenticate(ctx, code)
	if err != nil {
		log.Warn("github sign-in failed", "error", err)
		http.Error(w, "github sign-in failed", http.StatusUnauthorized)
		return
	}

	user, err := h.users.UpsertUser(ctx, hosts.User{
		GitHubID:  id.GitHubID,
		Login:     id.Login,
		Name:      id.Name,
		AvatarURL: id.AvatarURL,
	})
	if err != nil {
		log.Error("saving user failed", "login", id.Login, "error", err)
		http.Error(w, "sign-in unavailable", http.StatusServiceUnavailable)
		return
	}

	sess, err := h.sessions.Create(ctx, Session{UserID: user.ID, Login: user.Login, AvatarURL: user.AvatarURL})
	if err != nil {
		log.Error("creating session failed", "login", id.Login, "error", err)
		http.Error(w, "sign-in unavailable", http.StatusServiceUnavailable)
		return
	}
	http.SetCookie(w, h.sessionCookie(sess.ID, int(h.sessions.TTL().Seconds())))
	log.Info("user signed in", "login", user.Login, "user_id", user.ID)
	http.Redirect(w, r, "/dashboard", http.StatusFound)
}

// SignOut ends the session, if any, and returns to the index page.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(h.cfg.CookieName); err == nil && c.Value != "" {
		if err := h.sessions.Delete(r.Context(), c.Value); err != nil {
			logger.FromContext(r.Context()).Warn("deleting session failed", "error", err)
		}
	}
	http.SetCookie(w, h.sessionCookie("", -1))
	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *Handler) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func randomState() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
