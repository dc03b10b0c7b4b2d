package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/bissquit/outreach-queue/internal/app"
	"github.com/bissquit/outreach-queue/internal/pkg/ctxlog"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newDispatchCmd() *cobra.Command {
	var ownerID string

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Send one batch of due emails for an owner",
		Long: `Send one batch of due emails for an owner and print the outcome of each entry.
Intended for external schedulers such as cron or a Kubernetes CronJob.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := uuid.Parse(ownerID); err != nil {
				return fmt.Errorf("invalid owner id %q", ownerID)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			application, err := app.New(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = application.Close() }()

			ctx := ctxlog.With(cmd.Context(), "command", "dispatch")
			outcomes, dispatchErr := application.Dispatcher().DispatchBatch(ctx, ownerID)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ENTRY\tSTATUS\tATTEMPTS\tDETAIL")
			for _, out := range outcomes {
				detail := out.Error
				if out.MessageID != "" {
					detail = out.MessageID
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", out.ID, out.Status, out.Attempts, detail)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if dispatchErr != nil {
				return fmt.Errorf("dispatch stopped early: %w", dispatchErr)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&ownerID, "owner", "", "owner id (uuid)")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}
