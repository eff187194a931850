package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"rentcomps/config"
	"rentcomps/fieldmap"
	"rentcomps/metrics"
	"rentcomps/models"
	"rentcomps/rets"
	"rentcomps/services"
	"rentcomps/utils"
)

func main() {
	logger := utils.NewLogger()
	defer logger.Sync()

	cmd := NewRootCmd(config.Load(), logger)
	if err := cmd.Execute(); err != nil {
		logger.Error("%v", err)
		logger.Sync()
		os.Exit(1)
	}
}

// NewRootCmd constructs the root CLI command; exposed for unit testing.
func NewRootCmd(cfg *config.Config, logger *utils.Logger) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "rentcomps",
		Short:         "Rental comparables from an MLS RETS server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newSearchCmd(cfg, logger))
	rootCmd.AddCommand(newPhotoCmd(cfg, logger))
	rootCmd.AddCommand(newMetadataCmd(cfg, logger))
	rootCmd.AddCommand(newServeCmd(cfg, logger))

	return rootCmd
}

// app is the wired RETS client and field mapper every command runs on.
type app struct {
	cfg    *config.Config
	log    *utils.Logger
	client *rets.Client
	mapper *fieldmap.Mapper
}

// newApp validates configuration before anything touches the network.
func newApp(cfg *config.Config, logger *utils.Logger, recorder metrics.Recorder) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	schema, err := fieldmap.Lookup(cfg.MLSSystem)
	if err != nil {
		return nil, err
	}
	if cfg.MLSSearchType != "" {
		schema.SearchType = cfg.MLSSearchType
	}
	if cfg.MLSClass != "" {
		schema.Class = cfg.MLSClass
	}
	mapper, err := fieldmap.New(schema, fieldmap.Options{RequireSqft: true, Logger: logger})
	if err != nil {
		return nil, err
	}

	opts := rets.OptionsFromConfig(cfg)
	opts.Logger = logger
	opts.Metrics = recorder
	client, err := rets.NewClient(opts)
	if err != nil {
		return nil, err
	}

	logger.Info("[rentcomps] MLS %s | %s/%s | session policy %s",
		schema.System, schema.SearchType, schema.Class, cfg.SessionPolicy)
	return &app{cfg: cfg, log: logger, client: client, mapper: mapper}, nil
}

func (a *app) compService() *services.CompService {
	return services.NewCompService(a.client, a.mapper, services.NewScorer(services.DefaultScoreConfig(), nil), a.log)
}

func (a *app) photoFetcher() *services.PhotoFetcher {
	return services.NewPhotoFetcher(a.client, a.cfg.MaxConcurrency, a.cfg.RateLimitMs, a.log)
}

// close ends a cached session; it must outlive the command's context.
func (a *app) close(ctx context.Context) {
	a.client.Close(context.WithoutCancel(ctx))
}

// parsePropertyType accepts a canonical type name in any case.
func parsePropertyType(raw string) (models.PropertyType, error) {
	if raw == "" {
		return "", nil
	}
	for _, pt := range models.PropertyTypes {
		if strings.EqualFold(raw, string(pt)) {
			return pt, nil
		}
	}
	return "", fmt.Errorf("unknown property type %q", raw)
}
