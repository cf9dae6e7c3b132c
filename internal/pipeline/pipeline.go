// Package pipeline drives the bootstrap sequence: authenticate, materialize
// both repositories, reconcile the feature branch, provision the agent
// workspace, validate it, and launch the agent. Stages run strictly in
// order; the driver decides retry-vs-abort from the typed errors the lower
// packages return.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opsforge/agentprep/internal/config"
	"github.com/opsforge/agentprep/internal/execx"
	"github.com/opsforge/agentprep/internal/githubauth"
	"github.com/opsforge/agentprep/internal/gitrepo"
	"github.com/opsforge/agentprep/internal/launcher"
	"github.com/opsforge/agentprep/internal/provision"
	"github.com/opsforge/agentprep/internal/report"
	"github.com/opsforge/agentprep/internal/secret"
	"github.com/opsforge/agentprep/internal/validate"
)

// tokenLeeway is how close to expiry a token may be before any stage that
// hits the GitHub remote forces a refresh.
const tokenLeeway = 5 * time.Minute

// TokenSource is the credential surface the pipeline needs; satisfied by
// githubauth.Forge. Nil when running SSH-only.
type TokenSource interface {
	Mint(ctx context.Context) (*githubauth.InstallationToken, error)
	EnsureFresh(ctx context.Context, leeway time.Duration) (*githubauth.InstallationToken, error)
	ConfigureGit(ctx context.Context, tok *githubauth.InstallationToken) error
	LoginCLI(ctx context.Context, tok *githubauth.InstallationToken) error
}

// Pipeline is the bootstrap driver.
type Pipeline struct {
	cfg    *config.Config
	tokens TokenSource
	runner execx.Runner
	logger *slog.Logger

	workspace   *gitrepo.Workspace
	branches    *gitrepo.Branches
	provisioner *provision.Provisioner
	agent       *launcher.Launcher

	sshKey *secret.File
}

// New wires a Pipeline from its collaborators. tokens may be nil when the
// configuration carries only an SSH key.
func New(cfg *config.Config, tokens TokenSource, runner execx.Runner, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		tokens:      tokens,
		runner:      runner,
		logger:      logger,
		workspace:   gitrepo.NewWorkspace(runner, logger),
		branches:    gitrepo.NewBranches(runner, logger),
		provisioner: provision.New(logger),
		agent:       launcher.New(cfg.AgentCmd, logger),
	}
}

// Run executes every stage and persists the run record win or lose. Partial
// progress is never rolled back; the persistent volume carries it into the
// next retry.
func (p *Pipeline) Run(ctx context.Context) (*report.Run, error) {
	run := report.NewRun(uuid.NewString(), p.cfg.TaskID)

	err := p.execute(ctx, run)
	if p.sshKey != nil {
		if closeErr := p.sshKey.Close(); closeErr != nil {
			p.logger.Warn("failed to remove deploy key file", "error", closeErr)
		}
	}
	if err != nil {
		run.MarkFailed()
	} else {
		run.MarkCompleted()
	}

	if saveErr := run.Save(p.cfg.WorkspaceDir); saveErr != nil {
		p.logger.Warn("failed to persist run record", "error", saveErr)
	}
	return run, err
}

func (p *Pipeline) execute(ctx context.Context, run *report.Run) error {
	if err := p.stage(run, "auth", func() error {
		return p.authenticate(ctx)
	}); err != nil {
		return err
	}

	docsRef := gitrepo.RepositoryRef{
		URL:           p.cfg.DocsRepositoryURL,
		LocalPath:     p.cfg.DocsRepoPath(),
		DefaultBranch: p.cfg.DocsBranch,
	}
	if err := p.stage(run, "docs_repo", func() error {
		return p.withGitRetry(ctx, func() error {
			_, err := p.workspace.EnsurePresent(ctx, docsRef, p.cfg.DocsBranch)
			return err
		})
	}); err != nil {
		return err
	}

	targetRef := gitrepo.RepositoryRef{
		URL:           p.cfg.RepositoryURL,
		LocalPath:     p.cfg.TargetRepoPath(),
		DefaultBranch: p.cfg.SourceBranch,
	}
	if err := p.stage(run, "target_repo", func() error {
		return p.withGitRetry(ctx, func() error {
			_, err := p.workspace.EnsurePresent(ctx, targetRef, p.cfg.SourceBranch)
			return err
		})
	}); err != nil {
		return err
	}

	var branch gitrepo.FeatureBranch
	branchErr := p.stage(run, "feature_branch", func() error {
		return p.withGitRetry(ctx, func() error {
			var err error
			branch, err = p.branches.EnsureFeatureBranch(ctx, p.cfg.TargetRepoPath(), p.cfg.TaskID, p.cfg.SourceBranch)
			return err
		})
	})
	run.Branch = branch.Name
	if branchErr != nil {
		// A conflicted merge is terminal for the branch but not for the
		// pipeline: markers stay in place and the agent resolves them.
		var conflict *gitrepo.MergeConflictError
		if !errors.As(branchErr, &conflict) {
			return branchErr
		}
		run.ConflictedFiles = conflict.Files
		p.logger.Warn("merge conflict left for the agent to resolve",
			"branch", conflict.Branch, "files", conflict.Files)
	}

	if err := p.stage(run, "provision", func() error {
		policy := provision.MemoryPreserve
		if p.cfg.OverwriteMemory {
			policy = provision.MemoryOverwrite
		}
		rep, err := p.provisioner.Provision(provision.Request{
			ConfigSourceDir: p.cfg.ConfigSourceDir,
			WorkingDir:      p.cfg.AgentWorkDir(),
			RepoRoot:        p.cfg.TargetRepoPath(),
			DocsRepoPath:    p.cfg.DocsRepoPath(),
			DocsProjectDir:  p.cfg.DocsProjectDir,
			TaskID:          p.cfg.TaskID,
			MemoryPolicy:    policy,
		})
		run.Provisioning = rep
		return err
	}); err != nil {
		return err
	}

	if err := p.stage(run, "validate", func() error {
		err := validate.Validate(validate.BootstrapSet(p.cfg.TargetRepoPath(), p.cfg.AgentWorkDir()))
		var vErr *validate.ValidationError
		if errors.As(err, &vErr) {
			for _, m := range vErr.Missing {
				run.MissingPaths = append(run.MissingPaths, m.Path)
			}
		}
		return err
	}); err != nil {
		return err
	}

	return p.stage(run, "launch", func() error {
		return p.agent.Run(ctx, launcher.Params{
			WorkingDir:      p.cfg.AgentWorkDir(),
			TaskID:          p.cfg.TaskID,
			Conflicted:      branch.Conflicted,
			ContinueSession: p.cfg.ContinueSession,
		})
	})
}

// stage runs fn and records its outcome and duration on the run record.
func (p *Pipeline) stage(run *report.Run, name string, fn func() error) error {
	p.logger.Info("stage starting", "stage", name)
	started := time.Now()
	err := fn()
	run.RecordStage(name, started, err)
	if err != nil {
		p.logger.Error("stage failed", "stage", name, "error", err)
		return err
	}
	p.logger.Info("stage complete", "stage", name, "duration", time.Since(started))
	return nil
}

// authenticate configures whichever credential the pod carries. With an App
// key the token is minted up front and handed to git and gh; with an SSH key
// git goes over SSH and the token (if any) still covers gh.
func (p *Pipeline) authenticate(ctx context.Context) error {
	switch {
	case p.cfg.SSHKeyPath != "":
		if err := githubauth.SetupSSH(p.cfg.SSHKeyPath); err != nil {
			return err
		}
	case p.cfg.SSHKey != "":
		// Key material arrived through the environment; it touches disk only
		// as a scoped secret file, removed once the run is over.
		key, err := githubauth.SetupSSHKeyData([]byte(p.cfg.SSHKey))
		if err != nil {
			return err
		}
		p.sshKey = key
	}
	if p.tokens == nil {
		// No forge to set this up as part of the credential install; commits
		// still need an author and pushes an auto-created tracking ref.
		return githubauth.ConfigureGitIdentity(ctx, p.runner, p.gitIdentity())
	}

	tok, err := p.tokens.EnsureFresh(ctx, tokenLeeway)
	if err != nil {
		var authErr *githubauth.AuthError
		if !errors.As(err, &authErr) || !authErr.Retryable() {
			return err
		}
		p.logger.Warn("token mint failed; retrying once", "error", err)
		if tok, err = p.tokens.EnsureFresh(ctx, tokenLeeway); err != nil {
			return err
		}
	}

	if err := p.tokens.LoginCLI(ctx, tok); err != nil {
		// The agent may still push over the git credential; PR creation is
		// its problem to report.
		p.logger.Warn("gh auth login failed", "error", err)
	}
	return nil
}

// gitIdentity is the commit author for runs that bypass the forge: the
// configured user when set, otherwise the repository owner's bot.
func (p *Pipeline) gitIdentity() string {
	if p.cfg.GitHubUser != "" {
		return p.cfg.GitHubUser
	}
	owner, _, err := p.cfg.RepoOwnerName()
	if err != nil {
		return "agentprep"
	}
	return owner + "[bot]"
}

// withGitRetry applies the retry policy to one git operation: auth failures
// earn a forced token refresh and one more attempt, network failures one
// more attempt, everything else aborts immediately.
func (p *Pipeline) withGitRetry(ctx context.Context, op func() error) error {
	err := op()
	if err == nil {
		return nil
	}

	var gitErr *gitrepo.GitError
	if !errors.As(err, &gitErr) {
		return err
	}

	switch gitErr.Kind {
	case gitrepo.KindAuth:
		if p.tokens == nil {
			return err
		}
		p.logger.Warn("git auth failure; refreshing token and retrying once", "op", gitErr.Op)
		tok, mintErr := p.tokens.Mint(ctx)
		if mintErr != nil {
			return err
		}
		if cfgErr := p.tokens.ConfigureGit(ctx, tok); cfgErr != nil {
			return err
		}
		return op()
	case gitrepo.KindNetwork:
		p.logger.Warn("transient git failure; retrying once", "op", gitErr.Op)
		return op()
	default:
		return err
	}
}
