/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package config loads the process configuration from the environment.
package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"chainguard.dev/planbot/platform"
	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"
)

// Config is read once at startup and never changes afterwards.
type Config struct {
	Host        string `env:"HOST,default=0.0.0.0"`
	Port        int    `env:"PORT,default=8080" validate:"min=1,max=65535"`
	MetricsPort int    `env:"METRICS_PORT,default=2112" validate:"min=0,max=65535"`

	BotUsername   string `env:"BOT_USERNAME,required" validate:"required"`
	WebhookSecret string `env:"WEBHOOK_SECRET,required" validate:"required"`

	JobTimeout             time.Duration `env:"JOB_TIMEOUT,default=30m" validate:"gt=0"`
	PollInterval           time.Duration `env:"POLL_INTERVAL,default=10s" validate:"gt=0"`
	PostIntermediateStatus bool          `env:"POST_INTERMEDIATE_STATUS,default=true"`
	PlanPaths              []string      `env:"PLAN_PATHS,default=PLAN.md,docs/PLAN.md,.planbot/plan.md" validate:"min=1,dive,required"`

	WatchRepos     []string `env:"WATCH_REPOS"`
	WatchReposFile string   `env:"WATCH_REPOS_FILE"`
	WatchDir       string   `env:"WATCH_DIR"`
	WatchMaxDepth  int      `env:"WATCH_MAX_DEPTH,default=2" validate:"min=0"`

	StoreDriver string `env:"STORE_DRIVER,default=sqlite3" validate:"oneof=sqlite3 pgx"`
	StoreDSN    string `env:"STORE_DSN,default=planbot.db"`

	GitHubToken          string `env:"GITHUB_TOKEN" validate:"required_without=GitHubAppID"`
	GitHubAppID          int64  `env:"GITHUB_APP_ID" validate:"required_without=GitHubToken"`
	GitHubInstallationID int64  `env:"GITHUB_APP_INSTALLATION_ID" validate:"required_with=GitHubAppID"`
	GitHubPrivateKeyPath string `env:"GITHUB_APP_PRIVATE_KEY_PATH" validate:"required_with=GitHubAppID"`
	GitHubAPIURL         string `env:"GITHUB_API_URL" validate:"omitempty,url"`

	AgentBinary string   `env:"AGENT_BINARY,default=claude" validate:"required"`
	AgentArgs   []string `env:"AGENT_ARGS,default=--print,--dangerously-skip-permissions"`
	AgentLogDir string   `env:"AGENT_LOG_DIR"`

	GitAuthorName  string `env:"GIT_AUTHOR_NAME"`
	GitAuthorEmail string `env:"GIT_AUTHOR_EMAIL" validate:"omitempty,email"`

	RedisAddr string `env:"REDIS_ADDR"`

	// InstanceID names this process in the job store. Instances sharing a
	// database need distinct ids that stay stable across restarts.
	InstanceID string `env:"INSTANCE_ID"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads the configuration from the process environment.
func Load(ctx context.Context) (*Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: l,
	}); err != nil {
		return nil, fmt.Errorf("processing environment: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.GitAuthorName == "" {
		cfg.GitAuthorName = cfg.BotUsername
	}
	if cfg.InstanceID == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("resolving instance id: %w", err)
		}
		cfg.InstanceID = host
	}
	return &cfg, nil
}

// Platform returns the GitHub client settings.
func (c *Config) Platform() platform.Config {
	return platform.Config{
		Token:          c.GitHubToken,
		AppID:          c.GitHubAppID,
		InstallationID: c.GitHubInstallationID,
		PrivateKeyPath: c.GitHubPrivateKeyPath,
		APIURL:         c.GitHubAPIURL,
	}
}

// Addr is the webhook listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
