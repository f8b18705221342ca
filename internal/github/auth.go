package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v73/github"
	"golang.org/x/oauth2"

	"github.com/sevigo/review-pipeline/internal/config"
	"github.com/sevigo/review-pipeline/internal/core"
)

// ClientFactory returns a GitHub client for a job. A non-empty token is
// the caller's own credential and takes precedence over the service's.
type ClientFactory interface {
	ForToken(ctx context.Context, token string) (Client, error)
}

type clientFactory struct {
	cfg    config.GitHubConfig
	logger *slog.Logger

	once       sync.Once
	appClient  Client
	appInitErr error
}

// NewClientFactory builds clients from caller tokens, a configured personal
// access token, or a GitHub App installation, in that order.
func NewClientFactory(cfg *config.Config, logger *slog.Logger) ClientFactory {
	return &clientFactory{cfg: cfg.GitHub, logger: logger}
}

func (f *clientFactory) ForToken(ctx context.Context, token string) (Client, error) {
	if token != "" {
		return f.patClient(ctx, token)
	}
	if f.cfg.Token != "" {
		return f.patClient(ctx, f.cfg.Token)
	}
	if f.cfg.AppID != 0 && f.cfg.InstallationID != 0 {
		f.once.Do(func() {
			f.appClient, f.appInitErr = f.installationClient()
		})
		return f.appClient, f.appInitErr
	}
	return nil, core.Permanent(core.ErrPermissionDenied, nil, "no GitHub credentials configured and job carries no token")
}

// patClient creates a client authenticated with a static token.
func (f *clientFactory) patClient(ctx context.Context, token string) (Client, error) {
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	gh, err := f.withBaseURL(github.NewClient(oauth2.NewClient(ctx, ts)))
	if err != nil {
		return nil, err
	}
	return NewGitHubClient(gh, f.logger), nil
}

// installationClient creates a client that is authenticated as the
// configured App installation. The transport refreshes the installation
// token before it expires.
func (f *clientFactory) installationClient() (Client, error) {
	f.logger.Info("creating GitHub installation client", "app_id", f.cfg.AppID, "installation_id", f.cfg.InstallationID)

	itr, err := ghinstallation.NewKeyFromFile(http.DefaultTransport, f.cfg.AppID, f.cfg.InstallationID, f.cfg.PrivateKeyPath)
	if err != nil {
		return nil, core.Permanent(core.ErrPermissionDenied, err,
			fmt.Sprintf("failed to create GitHub App transport from %s", f.cfg.PrivateKeyPath))
	}
	if f.cfg.BaseURL != "" {
		itr.BaseURL = strings.TrimRight(f.cfg.BaseURL, "/")
	}
	gh, err := f.withBaseURL(github.NewClient(&http.Client{Transport: itr}))
	if err != nil {
		return nil, err
	}
	return NewGitHubClient(gh, f.logger), nil
}

func (f *clientFactory) withBaseURL(gh *github.Client) (*github.Client, error) {
	if f.cfg.BaseURL == "" {
		return gh, nil
	}
	gh, err := gh.WithEnterpriseURLs(f.cfg.BaseURL, f.cfg.BaseURL)
	if err != nil {
		return nil, core.Permanent(core.ErrValidation, err, "invalid GITHUB_BASE_URL")
	}
	return gh, nil
}

// StaticClientFactory always returns the same client.
type StaticClientFactory struct {
	Client Client
}

func (s StaticClientFactory) ForToken(context.Context, string) (Client, error) {
	return s.Client, nil
}
