// Package auth signs dashboard users in with GitHub and keeps their
// sessions in Redis.
package auth

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/go-github/v61/github"
	"golang.org/x/oauth2"
	xgithub "golang.org/x/oauth2/github"

	"github.com/umrum/umrum/pkg/config"
)

// Identity is the GitHub account behind a sign-in.
type Identity struct {
	GitHubID  int64
	Login     string
	Name      string
	AvatarURL string
}

// ProviderOptions overrides GitHub endpoints, for GitHub Enterprise or tests.
type ProviderOptions struct {
	Endpoint   *oauth2.Endpoint
	APIBaseURL string
}

// GitHubProvider runs the OAuth 2.0 authorization-code flow against GitHub.
type GitHubProvider struct {
	oauth   *oauth2.Config
	apiBase *url.URL
}

func NewGitHubProvider(cfg config.GitHubConfig, opts ProviderOptions) (*GitHubProvider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("github client id and secret are required")
	}
	endpoint := xgithub.Endpoint
	if opts.Endpoint != nil {
		endpoint = *opts.Endpoint
	}
	p := &GitHubProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       cfg.Scopes,
		},
	}
	if opts.APIBaseURL != "" {
		u, err := url.Parse(opts.APIBaseURL)
		if err != nil {
			return nil, fmt.Errorf("parsing github api url: %w", err)
		}
		p.apiBase = u
	}
	return p, nil
}

// AuthCodeURL returns the GitHub authorize URL carrying state.
func (p *GitHubProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// Authenticate exchanges code for a token and fetches the signed-in user.
func (p *GitHubProvider) Authenticate(ctx context.Context, code string) (Identity, error) {
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return Identity{}, fmt.Errorf("exchanging oauth code: %w", err)
	}
	client := github.NewClient(p.oauth.Client(ctx, token))
	if p.apiBase != nil {
		client.BaseURL = p.apiBase
	}
	user, _, err := client.Users.Get(ctx, "")
	if err != nil {
		return Identity{}, fmt.Errorf("fetching github user: %w", err)
	}
	if user.GetID() == 0 || user.GetLogin() == "" {
		return Identity{}, fmt.Errorf("github user response is missing id or login")
	}
	return Identity{
		GitHubID:  user.GetID(),
		Login:     user.GetLogin(),
		Name:      user.GetName(),
		AvatarURL: user.GetAvatarURL(),
	}, nil
}
