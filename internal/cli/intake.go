package cli

import (
	"github.com/spf13/cobra"

	"github.com/opsforge/agentprep/internal/config"
	"github.com/opsforge/agentprep/internal/execx"
	"github.com/opsforge/agentprep/internal/githubauth"
	"github.com/opsforge/agentprep/internal/intake"
)

var intakeCmd = &cobra.Command{
	Use:   "intake",
	Short: "Turn a PRD into a task graph and open a pull request",
	RunE:  runIntake,
}

func runIntake(cmd *cobra.Command, args []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.ValidateIntake(); err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel, cfg.ServiceName)
	runner := execx.NewCmdRunner(logger)

	owner, name, err := cfg.RepoOwnerName()
	if err != nil {
		return err
	}
	forge, err := githubauth.NewForge(cfg.AppID, cfg.PrivateKeyPEM, owner, name, runner, logger,
		githubauth.WithGitUser(cfg.GitHubUser))
	if err != nil {
		return err
	}

	var reconciler intake.Reconciler
	if len(cfg.AgentCmd) > 0 {
		reconciler = intake.NewCLIReconciler(cfg.AgentCmd, runner, logger)
	}

	out, err := intake.New(cfg, forge, runner, reconciler, logger).Run(cmd.Context())
	if err != nil {
		logger.Error("intake failed",
			"project", out.ProjectName, "branch", out.Branch,
			"pushed", out.Pushed, "error", err)
		return err
	}

	logger.Info("intake complete",
		"project", out.ProjectName, "branch", out.Branch,
		"pr_url", out.PRURL, "failures", out.Failures)
	return nil
}
