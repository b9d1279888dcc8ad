package main

import (
	"fmt"
	"os"
	"time"

	"catalyst-migrator/pkg/database"
	"catalyst-migrator/pkg/migration"
	"catalyst-migrator/pkg/source"
	"catalyst-migrator/pkg/storage"
	"catalyst-migrator/pkg/types"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sceneSizesFlags = map[string]string{
	"contents_directory": "contents-dir",
	"report_path":        "report",
}

func sceneSizesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scene-sizes",
		Short: "Report the content size of every active scene",
		Long: `Scans active scenes in the content database, measures their files in the
local content folder and appends one line per scene to the report file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			cfg, err := loadConfig(cmd, sceneSizesFlags)
			if err != nil {
				return err
			}
			if err := cfg.ValidateSceneReport(); err != nil {
				return err
			}

			ctx, cancel := signalContext(logger)
			defer cancel()

			pool, err := database.Open(ctx, cfg.Postgres.ConnString())
			if err != nil {
				return err
			}
			defer pool.Close()

			report, err := os.OpenFile(cfg.ReportPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return fmt.Errorf("failed to open report: %w", err)
			}
			defer report.Close()

			scan := source.NewDatabaseScan(database.NewStore(pool, logger), types.EntityTypeScene, time.Time{})
			reporter := migration.NewSizeReporter(scan, storage.NewFolderStore(cfg.ContentsDirectory), report, logger,
				migration.WithReportTimeout(cfg.RequestTimeout))

			sizes, err := reporter.Run(ctx)
			if err != nil {
				return err
			}

			logger.Info("Scene report written",
				zap.String("path", cfg.ReportPath),
				zap.Int("scenes", len(sizes)))
			fmt.Fprintln(cmd.OutOrStdout(), renderSceneSizes(sizes))
			return nil
		},
	}

	cmd.Flags().String("contents-dir", "", "local content folder")
	cmd.Flags().String("report", "", "report file to append to")
	return cmd
}
