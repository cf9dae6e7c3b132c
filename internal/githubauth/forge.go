// Package githubauth mints GitHub App installation tokens and wires the
// resulting credential into git and the gh CLI. Tokens are short-lived
// (installation tokens ~1h, the signing JWT 10m), so callers refresh through
// EnsureFresh immediately before any API-dependent operation rather than
// trusting the token minted at process start.
package githubauth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/opsforge/agentprep/internal/execx"
)

const (
	defaultAPIBase = "https://api.github.com"
	jwtLifetime    = 10 * time.Minute
	// iat is backdated to tolerate clock drift between pod and GitHub.
	jwtClockSkew = 30 * time.Second
)

// InstallationToken is the scoped credential returned by GitHub. Never log
// the Token field.
type InstallationToken struct {
	Token     string
	ExpiresAt time.Time
}

// NeedsRefresh reports whether the token expires within leeway.
func (t *InstallationToken) NeedsRefresh(leeway time.Duration) bool {
	if t == nil || t.Token == "" {
		return true
	}
	return time.Until(t.ExpiresAt) < leeway
}

// Forge mints installation tokens for a GitHub App against one repository.
type Forge struct {
	appID      string
	key        *rsa.PrivateKey
	owner      string
	repo       string
	gitUser    string
	apiBase    string
	httpClient *http.Client
	runner     execx.Runner
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	current *InstallationToken
}

// Option configures a Forge.
type Option func(*Forge)

// WithAPIBase overrides the GitHub API base URL (tests, GHE).
func WithAPIBase(base string) Option {
	return func(f *Forge) { f.apiBase = strings.TrimSuffix(base, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Forge) { f.httpClient = c }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(f *Forge) { f.now = now }
}

// WithGitUser overrides the git commit identity. Defaults to <owner>[bot].
func WithGitUser(user string) Option {
	return func(f *Forge) { f.gitUser = user }
}

// NewForge parses the App private key and returns a Forge for owner/repo.
func NewForge(appID, privateKeyPEM, owner, repo string, runner execx.Runner, logger *slog.Logger, opts ...Option) (*Forge, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		return nil, &AuthError{Kind: KindBadKey, Op: "parse key", Err: err}
	}

	f := &Forge{
		appID:      appID,
		key:        key,
		owner:      owner,
		repo:       repo,
		apiBase:    defaultAPIBase,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		runner:     runner,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.gitUser == "" {
		f.gitUser = owner + "[bot]"
	}
	return f, nil
}

// signJWT builds the RS256 App JWT: iss=app_id, iat=now-skew, exp=now+10m.
func (f *Forge) signJWT() (string, error) {
	now := f.now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    f.appID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-jwtClockSkew)),
		ExpiresAt: jwt.NewNumericDate(now.Add(jwtLifetime)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(f.key)
	if err != nil {
		return "", &AuthError{Kind: KindBadKey, Op: "sign jwt", Err: err}
	}
	return signed, nil
}

// Mint exchanges a fresh App JWT for an installation access token scoped to
// the configured repository.
func (f *Forge) Mint(ctx context.Context) (*InstallationToken, error) {
	appJWT, err := f.signJWT()
	if err != nil {
		return nil, err
	}

	installationID, err := f.lookupInstallation(ctx, appJWT)
	if err != nil {
		return nil, err
	}

	tok, err := f.createAccessToken(ctx, appJWT, installationID)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.current = tok
	f.mu.Unlock()

	f.logger.Info("minted installation token",
		"owner", f.owner, "repo", f.repo, "expires_at", tok.ExpiresAt)
	return tok, nil
}

// Token returns the most recently minted token, or nil.
func (f *Forge) Token() *InstallationToken {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// EnsureFresh re-mints when the current token is absent or expires within
// leeway, and reconfigures git with the new credential. Safe to call before
// every API-dependent operation.
func (f *Forge) EnsureFresh(ctx context.Context, leeway time.Duration) (*InstallationToken, error) {
	if tok := f.Token(); !tok.NeedsRefresh(leeway) {
		return tok, nil
	}

	f.logger.Info("refreshing installation token", "owner", f.owner, "repo", f.repo)
	tok, err := f.Mint(ctx)
	if err != nil {
		return nil, err
	}
	if err := f.ConfigureGit(ctx, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

func (f *Forge) lookupInstallation(ctx context.Context, appJWT string) (int64, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/installation", f.apiBase, f.owner, f.repo)
	body, status, err := f.doRequest(ctx, http.MethodGet, url, appJWT)
	if err != nil {
		return 0, &AuthError{Kind: KindNetwork, Op: "lookup installation", Err: err}
	}

	switch {
	case status == http.StatusNotFound:
		return 0, &AuthError{Kind: KindNotInstalled, Op: "lookup installation",
			Err: fmt.Errorf("app is not installed on %s/%s", f.owner, f.repo)}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return 0, &AuthError{Kind: KindUnauthorized, Op: "lookup installation",
			Err: fmt.Errorf("status %d: %s", status, strings.TrimSpace(string(body)))}
	case status != http.StatusOK:
		return 0, &AuthError{Kind: KindNetwork, Op: "lookup installation",
			Err: fmt.Errorf("unexpected status %d", status)}
	}

	var resp struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, &AuthError{Kind: KindNetwork, Op: "lookup installation", Err: err}
	}
	if resp.ID == 0 {
		return 0, &AuthError{Kind: KindNotInstalled, Op: "lookup installation",
			Err: fmt.Errorf("response carried no installation id")}
	}
	return resp.ID, nil
}

func (f *Forge) createAccessToken(ctx context.Context, appJWT string, installationID int64) (*InstallationToken, error) {
	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", f.apiBase, installationID)
	body, status, err := f.doRequest(ctx, http.MethodPost, url, appJWT)
	if err != nil {
		return nil, &AuthError{Kind: KindNetwork, Op: "create access token", Err: err}
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, &AuthError{Kind: KindUnauthorized, Op: "create access token",
			Err: fmt.Errorf("status %d: %s", status, strings.TrimSpace(string(body)))}
	case status != http.StatusCreated:
		return nil, &AuthError{Kind: KindNetwork, Op: "create access token",
			Err: fmt.Errorf("unexpected status %d", status)}
	}

	var resp struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &AuthError{Kind: KindNetwork, Op: "create access token", Err: err}
	}
	if resp.Token == "" {
		return nil, &AuthError{Kind: KindUnauthorized, Op: "create access token",
			Err: fmt.Errorf("response carried no token")}
	}

	return &InstallationToken{Token: resp.Token, ExpiresAt: resp.ExpiresAt}, nil
}

func (f *Forge) doRequest(ctx context.Context, method, url, appJWT string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

// ConfigureGit installs the token into git's credential store and sets the
// identity and push behavior every later stage relies on. The credential is
// handed to `git credential approve` on stdin, never on argv.
func (f *Forge) ConfigureGit(ctx context.Context, tok *InstallationToken) error {
	if _, err := f.runner.Run(ctx, "", "git", "config", "--global", "credential.helper", "store"); err != nil {
		return fmt.Errorf("failed to configure git: %w", err)
	}
	if err := ConfigureGitIdentity(ctx, f.runner, f.gitUser); err != nil {
		return err
	}

	creds := fmt.Sprintf("url=https://github.com\nusername=x-access-token\npassword=%s\n", tok.Token)
	if _, err := f.runner.RunWithStdin(ctx, "", creds, "git", "credential", "approve"); err != nil {
		return fmt.Errorf("failed to store git credential: %w", err)
	}

	return nil
}

// ConfigureGitIdentity sets the commit identity and the push behavior later
// stages rely on. It needs no credential: SSH-based runs, which never touch
// the token path, call it directly.
func ConfigureGitIdentity(ctx context.Context, runner execx.Runner, user string) error {
	steps := [][]string{
		{"config", "--global", "user.name", user},
		{"config", "--global", "user.email", user + "@users.noreply.github.com"},
		{"config", "--global", "push.autoSetupRemote", "true"},
	}
	for _, args := range steps {
		if _, err := runner.Run(ctx, "", "git", args...); err != nil {
			return fmt.Errorf("failed to configure git identity: %w", err)
		}
	}
	return nil
}

// LoginCLI authenticates the gh CLI with the installation token over stdin.
func (f *Forge) LoginCLI(ctx context.Context, tok *InstallationToken) error {
	if _, err := f.runner.RunWithStdin(ctx, "", tok.Token+"\n", "gh", "auth", "login", "--with-token"); err != nil {
		return fmt.Errorf("failed to log gh in: %w", err)
	}
	return nil
}
