package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"lidora/internal/messaging"
	"lidora/internal/services/notification"
)

var notifierPrefetch int

// notifierCmd prints a line for every placed order
var notifierCmd = &cobra.Command{
	Use:   "notifier",
	Short: "Print order notifications from RabbitMQ",
	RunE:  runNotifier,
}

func init() {
	notifierCmd.Flags().IntVar(&notifierPrefetch, "prefetch", 1, "RabbitMQ prefetch count")
}

func runNotifier(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig("lidora-notifier")
	if err != nil {
		return err
	}
	defer log.Sync()
	if !cfg.RabbitMQ.Enabled {
		return fmt.Errorf("rabbitmq.enabled is false, nothing to consume")
	}

	ctx, stop := signalContext()
	defer stop()

	conn, err := messaging.New(cfg, log)
	if err != nil {
		return err
	}
	consumer := messaging.NewConsumer(conn, log, messaging.NotificationsQueue, "lidora-notifier", notifierPrefetch)
	return notification.NewSubscriber(consumer, log, cmd.OutOrStdout()).Start(ctx)
}
