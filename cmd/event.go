package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/frahmantamala/peerpay/internal/core/events"
	"github.com/frahmantamala/peerpay/pkg/logger"
	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Event management commands",
	Long:  `Inspect the in-process event bus: publish test events and list the event types the service emits`,
}

var publishEventCmd = &cobra.Command{
	Use:   "publish [event-type]",
	Short: "Publish a test event",
	Long:  `Publish a test event to a local event bus with a logging subscriber, for debugging handlers and payloads`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		publishTestEvent(args[0])
	},
}

var listEventsCmd = &cobra.Command{
	Use:   "types",
	Short: "List event types",
	Run: func(cmd *cobra.Command, args []string) {
		for _, t := range []string{
			events.EventTypePaymentSucceeded,
			events.EventTypePaymentFailed,
			events.EventTypePaymentRequestReceived,
			events.EventTypeReceiptConfirmed,
		} {
			fmt.Println(t)
		}
	},
}

var (
	eventData   string
	eventPeerID string
	eventAmount int64
)

func publishTestEvent(eventType string) {
	lg := logger.LoggerWrapper()

	eventBus := events.NewEventBus(lg)
	eventBus.Subscribe(eventType, func(ctx context.Context, event events.Event) error {
		lg.Info("test handler received event",
			"event_id", event.EventID(),
			"event_type", event.EventType(),
			"payload", event.Payload())
		return nil
	})

	var event events.Event
	switch eventType {
	case events.EventTypePaymentRequestReceived:
		event = events.NewPaymentRequestReceivedEvent(fmt.Sprintf("test-%d", time.Now().Unix()), eventPeerID, eventAmount, "")
	default:
		event = events.BaseEvent{
			ID:        fmt.Sprintf("test-%d", time.Now().Unix()),
			Type:      eventType,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"message": eventData,
				"source":  "cli-command",
			},
		}
	}

	lg.Info("publishing test event", "event_type", eventType, "event_id", event.EventID())

	if err := eventBus.Publish(context.Background(), event); err != nil {
		lg.Error("failed to publish event", "error", err)
		return
	}

	eventBus.Wait()
	lg.Info("test event published successfully")
}

func init() {
	publishEventCmd.Flags().StringVar(&eventData, "data", "test message", "Event data message")
	publishEventCmd.Flags().StringVar(&eventPeerID, "peer", "test-peer", "peer id for payment_request.received")
	publishEventCmd.Flags().Int64Var(&eventAmount, "amount", 1000, "amount in sats for payment_request.received")

	eventCmd.AddCommand(publishEventCmd)
	eventCmd.AddCommand(listEventsCmd)

	rootCmd.AddCommand(eventCmd)
}
