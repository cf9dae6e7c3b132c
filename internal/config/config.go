// Package config loads bootstrap and intake configuration. Values come from
// environment variables (the pod spec is the source of truth), optionally
// seeded from an agentprep.yaml file; environment always wins.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds everything the bootstrap and intake pipelines need. All
// credential material stays in memory; PrivateKeyPEM is never logged.
type Config struct {
	AppID          string `yaml:"app_id"`
	PrivateKeyPEM  string `yaml:"-"`
	PrivateKeyFile string `yaml:"private_key_file"`

	RepositoryURL     string `yaml:"repository_url"`
	DocsRepositoryURL string `yaml:"docs_repository_url"`
	SourceBranch      string `yaml:"source_branch"`
	DocsBranch        string `yaml:"docs_branch"`
	DocsProjectDir    string `yaml:"docs_project_directory"`
	WorkingDirectory  string `yaml:"working_directory"`

	TaskID      string `yaml:"task_id"`
	ServiceName string `yaml:"service_name"`
	GitHubUser  string `yaml:"github_user"`

	OverwriteMemory bool `yaml:"overwrite_memory"`
	ContinueSession bool `yaml:"continue_session"`

	WorkspaceDir    string   `yaml:"workspace_dir"`
	ConfigSourceDir string   `yaml:"config_source_dir"`
	AgentCmd        []string `yaml:"agent_cmd"`

	SSHKeyPath string `yaml:"ssh_key_path"`
	SSHKey     string `yaml:"-"`
	LogLevel   string `yaml:"log_level"`

	// Intake-only fields.
	ProjectName       string `yaml:"project_name"`
	PRDPath           string `yaml:"prd_path"`
	ArchitecturePath  string `yaml:"architecture_path"`
	TaskCLI           string `yaml:"task_cli"`
	MainModel         string `yaml:"main_model"`
	ResearchModel     string `yaml:"research_model"`
	FallbackModel     string `yaml:"fallback_model"`
	AnalyzeComplexity bool   `yaml:"analyze_complexity"`
	ExpandTasks       bool   `yaml:"expand_tasks"`
}

const (
	defaultWorkspaceDir    = "/workspace"
	defaultConfigSourceDir = "/task-files"
	defaultBranch          = "main"
	defaultTaskCLI         = "task-master"
)

// Load builds a Config from the optional YAML file at path (empty path or a
// missing file is fine) overlaid with environment variables.
func Load(path string) (*Config, error) {
	cfg := &Config{
		SourceBranch:    defaultBranch,
		DocsBranch:      defaultBranch,
		WorkspaceDir:    defaultWorkspaceDir,
		ConfigSourceDir: defaultConfigSourceDir,
		LogLevel:        "info",

		TaskCLI:           defaultTaskCLI,
		AnalyzeComplexity: true,
		ExpandTasks:       true,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Optional file; env alone must suffice.
		case err != nil:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)

	if cfg.PrivateKeyPEM == "" && cfg.PrivateKeyFile != "" {
		data, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key file %s: %w", cfg.PrivateKeyFile, err)
		}
		cfg.PrivateKeyPEM = string(data)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setBool := func(dst *bool, key string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.EqualFold(v, "true") || v == "1"
		}
	}

	setString(&cfg.AppID, "GITHUB_APP_ID")
	setString(&cfg.PrivateKeyPEM, "GITHUB_APP_PRIVATE_KEY")
	setString(&cfg.PrivateKeyFile, "GITHUB_APP_PRIVATE_KEY_FILE")
	setString(&cfg.RepositoryURL, "REPOSITORY_URL")
	setString(&cfg.DocsRepositoryURL, "DOCS_REPOSITORY_URL")
	setString(&cfg.SourceBranch, "SOURCE_BRANCH")
	setString(&cfg.DocsBranch, "DOCS_BRANCH")
	setString(&cfg.DocsProjectDir, "DOCS_PROJECT_DIRECTORY")
	setString(&cfg.WorkingDirectory, "WORKING_DIRECTORY")
	setString(&cfg.TaskID, "TASK_ID")
	setString(&cfg.ServiceName, "SERVICE_NAME")
	setString(&cfg.GitHubUser, "GITHUB_USER")
	setBool(&cfg.OverwriteMemory, "OVERWRITE_MEMORY")
	setBool(&cfg.ContinueSession, "CONTINUE_SESSION")
	setString(&cfg.WorkspaceDir, "WORKSPACE_DIR")
	setString(&cfg.ConfigSourceDir, "CONFIG_SOURCE_DIR")
	setString(&cfg.SSHKeyPath, "SSH_KEY_PATH")
	setString(&cfg.SSHKey, "SSH_KEY")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.ProjectName, "PROJECT_NAME")
	setString(&cfg.PRDPath, "PRD_PATH")
	setString(&cfg.ArchitecturePath, "ARCHITECTURE_PATH")
	setString(&cfg.TaskCLI, "TASK_CLI")
	setString(&cfg.MainModel, "MAIN_MODEL")
	setString(&cfg.ResearchModel, "RESEARCH_MODEL")
	setString(&cfg.FallbackModel, "FALLBACK_MODEL")
	setBool(&cfg.AnalyzeComplexity, "ANALYZE_COMPLEXITY")
	setBool(&cfg.ExpandTasks, "EXPAND_TASKS")

	if v, ok := os.LookupEnv("AGENT_CMD"); ok && v != "" {
		cfg.AgentCmd = strings.Fields(v)
	}
}

// ValidateBootstrap checks the fields the bootstrap pipeline cannot run
// without. Missing values name the environment variable to set.
func (c *Config) ValidateBootstrap() error {
	required := []struct {
		value string
		name  string
	}{
		{c.AppID, "GITHUB_APP_ID"},
		{c.RepositoryURL, "REPOSITORY_URL"},
		{c.DocsRepositoryURL, "DOCS_REPOSITORY_URL"},
		{c.TaskID, "TASK_ID"},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("configuration error: missing required value %s\n\nHint: set the %s environment variable (or the matching agentprep.yaml field)", r.name, r.name)
		}
	}

	if c.PrivateKeyPEM == "" && c.SSHKeyPath == "" && c.SSHKey == "" {
		return fmt.Errorf("configuration error: no credentials configured\n\nHint: set GITHUB_APP_PRIVATE_KEY (or GITHUB_APP_PRIVATE_KEY_FILE), or SSH_KEY_PATH / SSH_KEY for SSH-based clones")
	}

	if len(c.AgentCmd) == 0 {
		return fmt.Errorf("configuration error: missing agent command\n\nHint: set AGENT_CMD, e.g. AGENT_CMD=\"claude -p\"")
	}

	if _, _, err := c.RepoOwnerName(); err != nil {
		return err
	}

	return nil
}

// ValidateIntake checks the fields the intake pipeline cannot run without.
func (c *Config) ValidateIntake() error {
	if c.AppID == "" {
		return fmt.Errorf("configuration error: missing required value GITHUB_APP_ID\n\nHint: set the GITHUB_APP_ID environment variable")
	}
	if c.PrivateKeyPEM == "" {
		return fmt.Errorf("configuration error: missing required value GITHUB_APP_PRIVATE_KEY\n\nHint: set GITHUB_APP_PRIVATE_KEY or GITHUB_APP_PRIVATE_KEY_FILE")
	}
	if c.RepositoryURL == "" {
		return fmt.Errorf("configuration error: missing required value REPOSITORY_URL\n\nHint: set the REPOSITORY_URL environment variable")
	}
	if c.PRDPath == "" {
		return fmt.Errorf("configuration error: missing required value PRD_PATH\n\nHint: set PRD_PATH to the product requirements document to parse")
	}
	return nil
}

// RepoOwnerName extracts the owner and repository name from RepositoryURL.
// Accepts https://host/owner/repo(.git) and git@host:owner/repo(.git).
func (c *Config) RepoOwnerName() (owner, name string, err error) {
	return ParseOwnerName(c.RepositoryURL)
}

// ParseOwnerName extracts owner/name from an HTTPS or SSH remote URL.
func ParseOwnerName(url string) (owner, name string, err error) {
	trimmed := strings.TrimSuffix(url, ".git")

	if idx := strings.Index(trimmed, "://"); idx >= 0 {
		trimmed = trimmed[idx+3:]
	} else if idx := strings.Index(trimmed, "@"); idx >= 0 {
		trimmed = strings.Replace(trimmed[idx+1:], ":", "/", 1)
	}

	parts := strings.Split(trimmed, "/")
	if len(parts) < 3 || parts[len(parts)-2] == "" || parts[len(parts)-1] == "" {
		return "", "", fmt.Errorf("configuration error: cannot parse owner/repo from repository URL %q", url)
	}

	return parts[len(parts)-2], parts[len(parts)-1], nil
}

// RepoName returns the repository's short name.
func (c *Config) RepoName() string {
	_, name, err := c.RepoOwnerName()
	if err != nil {
		return ""
	}
	return name
}

// TargetRepoPath is the stable on-volume location of the target repository.
// Deterministic across retries of the same job; never a random temp path.
func (c *Config) TargetRepoPath() string {
	return filepath.Join(c.WorkspaceDir, c.RepoName())
}

// DocsRepoPath is the stable on-volume location of the docs repository clone.
func (c *Config) DocsRepoPath() string {
	return filepath.Join(c.WorkspaceDir, "docs-repo")
}

// AgentWorkDir is where the agent runs: the target repo root, or a
// subdirectory of it when WORKING_DIRECTORY is set.
func (c *Config) AgentWorkDir() string {
	if c.WorkingDirectory == "" || c.WorkingDirectory == "." {
		return c.TargetRepoPath()
	}
	return filepath.Join(c.TargetRepoPath(), c.WorkingDirectory)
}

