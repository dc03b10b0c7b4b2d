package main

import (
	"fmt"

	"github.com/bissquit/outreach-queue/internal/app"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newQuotaCmd() *cobra.Command {
	var ownerID string

	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Show today's send quota for an owner",
		Args:  cobra.NoArgs,
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

			status, err := application.Tracker().CheckQuota(cmd.Context(), ownerID)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "sent: %d\nremaining: %d\nlimit: %d\ncan_send: %t\n",
				status.Sent, status.Remaining, status.Limit, status.CanSend)
			return nil
		},
	}

	cmd.Flags().StringVar(&ownerID, "owner", "", "owner id (uuid)")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}
