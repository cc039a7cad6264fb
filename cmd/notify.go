package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"migration-guard/internal/notify"
)

func init() {
	rootCmd.AddCommand(sendNotificationCmd())
}

func sendNotificationCmd() *cobra.Command {
	var notificationType string
	var notificationMessage string
	var severity string

	cmd := &cobra.Command{
		Use:   "send-notification",
		Short: "Send a notification through the configured channels",
		Long: `Build a structured notification payload and dispatch it through every
configured channel (email, webhook, Slack, file sink). Useful for
testing the notification configuration and for scripting around
rollback operations.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch severity {
			case notify.SeverityInfo, notify.SeverityWarning, notify.SeverityError, notify.SeverityCritical:
			default:
				return fmt.Errorf("invalid severity %q, must be one of: info, warning, error, critical", severity)
			}

			e, err := newEngine(cmd.Context(), cmd, false)
			if err != nil {
				return err
			}
			defer e.Close()

			if !e.cfg.Notifications.Enabled {
				return fmt.Errorf("notifications are disabled; set notifications.enabled in the configuration")
			}

			if err := e.notifier.Send(cmd.Context(), notify.Notification{
				Type:     notificationType,
				Message:  notificationMessage,
				Severity: severity,
			}); err != nil {
				e.display.Failure(fmt.Sprintf("Notification failed: %v", err))
				return err
			}

			e.display.Success(fmt.Sprintf("Notification %s sent", notificationType))
			return nil
		},
	}

	cmd.Flags().StringVar(&notificationType, "notification-type", "", "event type of the notification")
	cmd.Flags().StringVar(&notificationMessage, "notification-message", "", "message body of the notification")
	cmd.Flags().StringVar(&severity, "severity", notify.SeverityInfo, "severity (info, warning, error, critical)")
	cmd.MarkFlagRequired("notification-type")
	cmd.MarkFlagRequired("notification-message")
	return cmd
}
