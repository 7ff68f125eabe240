package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/umrum/umrum/internal/hosts"
	"github.com/umrum/umrum/pkg/config"
	apperrors "github.com/umrum/umrum/pkg/errors"
	pkgredis "github.com/umrum/umrum/pkg/redis"
)

var sessionCfg = config.SessionConfig{CookieName: "umrum_session", TTL: time.Hour}

func newSessions(t *testing.T) (*miniredis.Miniredis, *Sessions) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := pkgredis.NewClient(config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewSessions(client, time.Hour)
}

func TestSessions_Lifecycle(t *testing.T) {
	mr, sessions := newSessions(t)
	ctx := context.Background()

	sess, err := sessions.Create(ctx, Session{UserID: 7, Login: "octocat"})
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	assert.True(t, mr.Exists("session:"+sess.ID))
	assert.Equal(t, time.Hour, mr.TTL("session:"+sess.ID))

	got, err := sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess, got)

	require.NoError(t, sessions.Delete(ctx, sess.ID))
	_, err = sessions.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestSessions_Expiry(t *testing.T) {
	mr, sessions := newSessions(t)
	sess, err := sessions.Create(context.Background(), Session{UserID: 7, Login: "octocat"})
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)
	_, err = sessions.Get(context.Background(), sess.ID)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestSessions_RejectsMalformedID(t *testing.T) {
	_, sessions := newSessions(t)
	_, err := sessions.Get(context.Background(), "../../etc/passwd")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func newFakeGitHub(t *testing.T, user string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"bad_verification_code"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"gho_test","token_type":"bearer"}`))
	})
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer gho_test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(user))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newProvider(t *testing.T, srv *httptest.Server) *GitHubProvider {
	t.Helper()
	p, err := NewGitHubProvider(config.GitHubConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		CallbackURL:  "http://localhost/auth/github/callback",
		Scopes:       []string{"read:user"},
	}, ProviderOptions{
		Endpoint: &oauth2.Endpoint{
			AuthURL:  srv.URL + "/login/oauth/authorize",
			TokenURL: srv.URL + "/login/oauth/access_token",
		},
		APIBaseURL: srv.URL + "/",
	})
	require.NoError(t, err)
	return p
}

func TestGitHubProvider_Authenticate(t *testing.T) {
	srv := newFakeGitHub(t, `{"id":42,"login":"octocat","name":"The Octocat","avatar_url":"https://avatars/42"}`)
	p := newProvider(t, srv)

	authURL, err := url.Parse(p.AuthCodeURL("xyz"))
	require.NoError(t, err)
	assert.Equal(t, "xyz", authURL.Query().Get("state"))
	assert.Equal(t, "client", authURL.Query().Get("client_id"))

	id, err := p.Authenticate(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, Identity{GitHubID: 42, Login: "octocat", Name: "The Octocat", AvatarURL: "https://avatars/42"}, id)

	_, err = p.Authenticate(context.Background(), "bad-code")
	assert.Error(t, err)
}

func TestGitHubProvider_IncompleteUser(t *testing.T) {
	srv := newFakeGitHub(t, `{"login":"ghost"}`)
	_, err := newProvider(t, srv).Authenticate(context.Background(), "good-code")
	assert.Error(t, err)
}

func TestNewGitHubProvider_RequiresCredentials(t *testing.T) {
	_, err := NewGitHubProvider(config.GitHubConfig{}, ProviderOptions{})
	assert.Error(t, err)
}

type stubProvider struct {
	id  Identity
	err error
}

func (s stubProvider) AuthCodeURL(state string) string {
	return "https://github.example/authorize?state=" + state
}

func (s stubProvider) Authenticate(context.Context, string) (Identity, error) {
	return s.id, s.err
}

type stubUsers struct {
	saved []hosts.User
	err   error
}

func (s *stubUsers) UpsertUser(_ context.Context, u hosts.User) (hosts.User, error) {
	if s.err != nil {
		return hosts.User{}, s.err
	}
	u.ID = 7
	s.saved = append(s.saved, u)
	return u, nil
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestSignInAndCallback(t *testing.T) {
	_, sessions := newSessions(t)
	users := &stubUsers{}
	h := NewHandler(stubProvider{id: Identity{GitHubID: 42, Login: "octocat"}}, users, sessions, sessionCfg)
	mux := http.NewServeMux()
	h.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/signin", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	state := cookieNamed(rec, stateCookie)
	require.NotNil(t, state)
	assert.Contains(t, rec.Header().Get("Location"), "state="+state.Value)

	req := httptest.NewRequest(http.MethodGet, "/auth/github/callback?code=abc&state="+state.Value, nil)
	req.AddCookie(state)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))

	sc := cookieNamed(rec, "umrum_session")
	require.NotNil(t, sc)
	assert.True(t, sc.HttpOnly)
	sess, err := sessions.Get(context.Background(), sc.Value)
	require.NoError(t, err)
	assert.Equal(t, int64(7), sess.UserID)
	assert.Equal(t, "octocat", sess.Login)
	require.Len(t, users.saved, 1)
	assert.Equal(t, int64(42), users.saved[0].GitHubID)

	req = httptest.NewRequest(http.MethodGet, "/signout", nil)
	req.AddCookie(sc)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	_, err = sessions.Get(context.Background(), sc.Value)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestCallback_Failures(t *testing.T) {
	tests := []struct {
		name       string
		provider   stubProvider
		users      *stubUsers
		query      string
		cookie     string
		wantStatus int
	}{
		{"missing state cookie", stubProvider{}, &stubUsers{}, "code=abc&state=s1", "", http.StatusBadRequest},
		{"state mismatch", stubProvider{}, &stubUsers{}, "code=abc&state=s1", "s2", http.StatusBadRequest},
		{"missing code", stubProvider{}, &stubUsers{}, "state=s1", "s1", http.StatusBadRequest},
		{"provider rejects", stubProvider{err: errors.New("bad code")}, &stubUsers{}, "code=abc&state=s1", "s1", http.StatusUnauthorized},
		{"user store down", stubProvider{id: Identity{GitHubID: 1, Login: "a"}}, &stubUsers{err: errors.New("db down")}, "code=abc&state=s1", "s1", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, sessions := newSessions(t)
			h := NewHandler(tt.provider, tt.users, sessions, sessionCfg)
			req := httptest.NewRequest(http.MethodGet, "/auth/github/callback?"+tt.query, nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: stateCookie, Value: tt.cookie})
			}
			rec := httptest.NewRecorder()
			h.Callback(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Nil(t, cookieNamed(rec, "umrum_session"))
		})
	}
}

func TestLoadSessionAndRequireUser(t *testing.T) {
	_, sessions := newSessions(t)
	sess, err := sessions.Create(context.Background(), Session{UserID: 7, Login: "octocat"})
	require.NoError(t, err)

	var seen Session
	protected := LoadSession(sessions, "umrum_session")(RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = SessionFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	tests := []struct {
		name       string
		method     string
		accept     string
		cookie     string
		wantStatus int
	}{
		{"signed in", http.MethodGet, "", sess.ID, http.StatusNoContent},
		{"anonymous page", http.MethodGet, "", "", http.StatusFound},
		{"anonymous json", http.MethodGet, "application/json", "", http.StatusUnauthorized},
		{"anonymous post", http.MethodPost, "", "", http.StatusUnauthorized},
		{"stale cookie", http.MethodGet, "", "0b7e0f2e-6f8c-4a53-a6a4-3c1e5e6b9a10", http.StatusFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/dashboard", nil)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "umrum_session", Value: tt.cookie})
			}
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusFound {
				assert.Equal(t, "/signin", rec.Header().Get("Location"))
			}
		})
	}
	assert.Equal(t, "octocat", seen.Login)
}

func TestSessionJSONOmitsID(t *testing.T) {
	data, err := json.Marshal(Session{ID: "secret", UserID: 1, Login: "a"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")
}
