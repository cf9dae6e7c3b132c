package cli

import (
	"github.com/spf13/cobra"

	"github.com/opsforge/agentprep/internal/config"
	"github.com/opsforge/agentprep/internal/execx"
	"github.com/opsforge/agentprep/internal/githubauth"
	"github.com/opsforge/agentprep/internal/pipeline"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Prepare the workspace and launch the coding agent",
	RunE:  runBootstrap,
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.ValidateBootstrap(); err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel, cfg.ServiceName)
	runner := execx.NewCmdRunner(logger)

	var tokens pipeline.TokenSource
	if cfg.PrivateKeyPEM != "" {
		owner, name, err := cfg.RepoOwnerName()
		if err != nil {
			return err
		}
		forge, err := githubauth.NewForge(cfg.AppID, cfg.PrivateKeyPEM, owner, name, runner, logger,
			githubauth.WithGitUser(cfg.GitHubUser))
		if err != nil {
			return err
		}
		tokens = forge
	}

	run, err := pipeline.New(cfg, tokens, runner, logger).Run(cmd.Context())
	if err != nil {
		logger.Error("bootstrap failed", "run_id", run.RunID, "task_id", cfg.TaskID, "error", err)
		return err
	}

	logger.Info("bootstrap complete",
		"run_id", run.RunID, "task_id", cfg.TaskID,
		"branch", run.Branch, "conflicted_files", len(run.ConflictedFiles))
	return nil
}
