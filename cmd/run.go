package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/agent"
	"github.com/xkilldash9x/webpilot/internal/observability"
	"github.com/xkilldash9x/webpilot/internal/service"
)

// newRunCmd creates the one-shot `run` command: start a task, stream its
// progress to stdout, and tear the session down when it finishes.
func newRunCmd() *cobra.Command {
	var (
		sessionID   string
		keepSession bool
	)

	runCmd := &cobra.Command{
		Use:   "run [goal...]",
		Short: "Run a single browsing task for the given goal",
		Args:  cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			goal := strings.Join(args, " ")

			components, err := service.BuildComponents(ctx, appConfig)
			if err != nil {
				return fmt.Errorf("failed to build components: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				components.Shutdown(shutdownCtx)
			}()

			events, unsubscribe := components.Bus.Subscribe(agent.EventMessage)
			defer unsubscribe()
			printerDone := make(chan struct{})
			go func() {
				defer close(printerDone)
				for ev := range events {
					if ev.Message == nil {
						continue
					}
					printMessage(cmd, ev)
				}
			}()

			run, err := components.Orchestrator.StartTask(ctx, goal, sessionID)
			if err != nil {
				return err
			}

			if run.State() == agent.StateSuspended {
				printChoices(cmd, run)
			}

			if !keepSession {
				if _, err := components.Orchestrator.Terminate(ctx, run.SessionID()); err != nil {
					logger.Warn("Failed to terminate session", zap.Error(err))
				}
			} else {
				cmd.Printf("Session kept alive: %s\n", run.SessionID())
			}

			unsubscribe()
			<-printerDone

			if runErr := run.Err(); runErr != nil {
				return runErr
			}
			return nil
		},
	}

	runCmd.Flags().StringVar(&sessionID, "session", "", "reuse an existing browser session id")
	runCmd.Flags().BoolVar(&keepSession, "keep-session", false, "leave the browser session registered after the run")
	return runCmd
}

func printMessage(cmd *cobra.Command, ev agent.Event) {
	msg := ev.Message
	switch {
	case msg.Final:
		cmd.Printf("\n=> %s\n", msg.Text)
	case msg.StepNumber > 0:
		cmd.Printf("[%d] %-13s %s\n", msg.StepNumber, msg.Tool, msg.Text)
	default:
		cmd.Printf("task: %s\n", msg.Text)
	}
}

func printChoices(cmd *cobra.Command, run *agent.Run) {
	cmd.Println("\nThe agent needs you to choose an action:")
	for i, choice := range run.PendingChoices() {
		cmd.Printf("  %d. %s\n", i, choice.Description)
	}
	cmd.Printf("Resume with: POST /api/runs/%s/resume against a running `webpilot serve`.\n", run.ID())
}

func init() {
	rootCmd.AddCommand(newRunCmd())
}
