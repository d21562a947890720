// Command seed loads the development data set into the configured store
// or removes every document from it.
package main

import (
	"context"
	"embed"
	"os"

	"github.com/natours/api/internal/auth"
	"github.com/natours/api/internal/config"
	"github.com/natours/api/internal/logging"
	"github.com/natours/api/internal/store"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

//go:embed data/*.json
var devData embed.FS

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var importData, deleteData bool

	cmd := &cobra.Command{
		Use:          "seed (--import | --delete)",
		Short:        "Load or clear the development data set",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := logging.New(cfg)
			return run(cmd.Context(), cfg, logger, deleteData)
		},
	}
	cmd.Flags().BoolVar(&importData, "import", false, "import the development data set")
	cmd.Flags().BoolVar(&deleteData, "delete", false, "delete every document")
	cmd.MarkFlagsMutuallyExclusive("import", "delete")
	cmd.MarkFlagsOneRequired("import", "delete")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger, deleteData bool) error {
	st, err := store.Open(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to open store")
		return err
	}

	if deleteData {
		if err := Delete(ctx, st); err != nil {
			logger.WithError(err).Error("Failed to delete data")
			return err
		}
		logger.Info("All data deleted")
		return nil
	}

	counts, err := Import(ctx, st, auth.NewPasswords(cfg.JWT.BcryptCost), devData, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to import data")
		return err
	}
	logger.WithFields(logrus.Fields{
		"users":   counts.Users,
		"tours":   counts.Tours,
		"reviews": counts.Reviews,
	}).Info("Data imported")
	return nil
}
