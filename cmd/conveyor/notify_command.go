package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"conveyor/internal/notifications"
)

func newNotifyCommand(ctx *commandContext) *cobra.Command {
	notifyCmd := &cobra.Command{
		Use:   "notify",
		Short: "Push notification helpers",
	}
	notifyCmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Send a test notification to the configured ntfy topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			svc := notifications.NewService(cfg)
			if !notifications.Enabled(svc) {
				return errors.New("notifications are disabled: set notifications.ntfy_topic")
			}
			if err := svc.Publish(commandCtx(cmd), notifications.EventTest, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Test notification sent to %s\n", cfg.Notifications.NtfyTopic)
			return nil
		},
	})
	return notifyCmd
}
