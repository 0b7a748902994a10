package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/observability"
	"github.com/xkilldash9x/webpilot/internal/service"
)

// newServeCmd creates the `serve` command exposing the task API over HTTP.
func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the task API over HTTP",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			components, err := service.BuildComponents(ctx, appConfig)
			if err != nil {
				return fmt.Errorf("failed to build components: %w", err)
			}

			server := service.NewServer(logger, appConfig.Server, components.Orchestrator)

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				components.Shutdown(context.Background())
				return err
			case <-ctx.Done():
				logger.Info("Shutdown signal received.")
			}

			if err := server.Shutdown(context.Background()); err != nil {
				logger.Warn("HTTP shutdown incomplete", zap.Error(err))
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			components.Shutdown(shutdownCtx)
			return nil
		},
	}

	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	return serveCmd
}

func init() {
	rootCmd.AddCommand(newServeCmd())
}
