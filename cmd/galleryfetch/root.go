package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"galleryfetch/internal/adapter"
	"galleryfetch/internal/asset"
	"galleryfetch/internal/config"
	"galleryfetch/internal/discovery"
	fileutil "galleryfetch/internal/file"
	"galleryfetch/internal/httpx"
	"galleryfetch/internal/logger"
	"galleryfetch/internal/metadata"
	"galleryfetch/internal/task"
)

// app carries what every subcommand needs after the root pre-run.
type app struct {
	configPath string
	cfg        config.Config
	logger     *logger.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "galleryfetch",
		Short:        "Download image galleries from supported sites",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logger.New(logger.Config{
				Level:      cfg.Log.Level,
				Format:     cfg.Log.Format,
				Path:       cfg.Log.Path,
				MaxSizeMB:  cfg.Log.MaxSizeMB,
				MaxBackups: cfg.Log.MaxBackups,
				MaxAgeDays: cfg.Log.MaxAgeDays,
			}, cmd.ErrOrStderr())
			a.logger.Install()
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Close()
			}
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default ./config.yml)")

	root.AddCommand(newServeCmd(a), newFetchCmd(a), newAdaptersCmd(a))
	return root
}

// buildManager wires the registry, the shared HTTP client and the pipeline
// stages into a task manager and restores persisted tasks.
func (a *app) buildManager() (*task.Manager, *adapter.Registry, error) {
	cfg := a.cfg
	if err := fileutil.EnsureDir(cfg.DataDir); err != nil {
		return nil, nil, fmt.Errorf("ensure data dir %s: %w", cfg.DataDir, err)
	}
	registry, err := adapter.Load(cfg.AdaptersDir)
	if err != nil {
		return nil, nil, err
	}

	client := httpx.New(httpx.Options{
		Timeout:    cfg.HTTP.Timeout,
		UserAgent:  cfg.HTTP.UserAgent,
		RetryCount: cfg.HTTP.RetryCount,
		RetryWait:  cfg.HTTP.RetryWait,
		PoolSize:   cfg.MaxConcurrentDownloads,
	})

	tm := task.NewManagerWithOptions(task.Options{
		DataDir:                cfg.DataDir,
		MaxConcurrentDownloads: cfg.MaxConcurrentDownloads,
		Settings: task.Settings{
			DownloadRoot: cfg.DownloadRoot,
			RetryLimit:   cfg.RetryLimit,
			PageDelay:    cfg.PageDelay,
		},
		Resolver:  registry,
		Metadata:  metadata.NewExtractor(client),
		Discovery: discovery.New(client),
		Assets:    asset.NewFetcher(client),
	})
	if err := tm.LoadFromDisk(); err != nil {
		log.Warn().Err(err).Msg("restore tasks failed")
	}
	return tm, registry, nil
}
