// Command eventbus-probe is an operator's hand tool for exercising a live
// broker: connect and report liveness, publish one envelope, or subscribe
// and print deliveries until interrupted. It ships alongside the library
// as a convenience, not as part of what a service embeds.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fleetmesh/eventbus/broker"
	"github.com/fleetmesh/eventbus/envelope"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "eventbus-probe",
	Short: "Exercise a live event bus broker by hand",
}

func init() {
	rootCmd.PersistentFlags().String("service", "eventbus-probe", "Service name reported to the broker")
	rootCmd.PersistentFlags().String("url", "", "Broker URL (defaults to NATS_URL or nats://localhost:4222)")

	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(subscribeCmd)

	publishCmd.Flags().String("type", "", "Event type (required, e.g. payment.completed)")
	publishCmd.Flags().String("source", "", "Event source (required, e.g. payment_service)")
	publishCmd.Flags().String("data", "{}", "JSON-encoded data payload")
	publishCmd.MarkFlagRequired("type")
	publishCmd.MarkFlagRequired("source")

	subscribeCmd.Flags().String("pattern", ">", "Subject pattern appended after events. (default: all events)")
	subscribeCmd.Flags().String("durable", "", "Durable consumer name (omit for ephemeral)")
}

func rootLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}

func connectSession(cmd *cobra.Command) (*broker.Session, error) {
	service, _ := cmd.Flags().GetString("service")
	url, _ := cmd.Flags().GetString("url")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return broker.Connect(ctx, broker.Config{ServiceName: service, URL: url}, rootLogger(), nil)
}

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect to the broker, ensure the stream, and report liveness",
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := connectSession(cmd)
		if err != nil {
			return err
		}
		defer session.Close()

		mgr := broker.NewStreamManager(session, rootLogger())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mgr.EnsureStream(ctx, broker.DefaultStreamSpec()); err != nil {
			fmt.Printf("stream provisioning failed (non-fatal): %v\n", err)
		}

		fmt.Printf("connected: %v\n", session.IsConnected())
		return nil
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish one envelope and report success/failure",
	RunE: func(cmd *cobra.Command, args []string) error {
		eventType, _ := cmd.Flags().GetString("type")
		source, _ := cmd.Flags().GetString("source")
		rawData, _ := cmd.Flags().GetString("data")

		var data map[string]interface{}
		if err := json.Unmarshal([]byte(rawData), &data); err != nil {
			return fmt.Errorf("invalid --data JSON: %w", err)
		}

		session, err := connectSession(cmd)
		if err != nil {
			return err
		}
		defer session.Close()

		pub := broker.NewPublisher(session, rootLogger(), nil)
		e := envelope.New(eventType, source, data, nil, nil)

		ok := pub.Publish(context.Background(), e)
		fmt.Printf("envelope_id=%s subject=%s published=%v\n", e.ID, e.SubjectString(), ok)
		if !ok {
			return fmt.Errorf("publish failed")
		}
		return nil
	},
}

var subscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Subscribe to a pattern and print deliveries until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		pattern, _ := cmd.Flags().GetString("pattern")
		durableName, _ := cmd.Flags().GetString("durable")

		session, err := connectSession(cmd)
		if err != nil {
			return err
		}
		defer session.Close()

		engine := broker.NewSubscriptionEngine(session, rootLogger(), nil)
		durability := broker.Ephemeral()
		if durableName != "" {
			durability = broker.Durable(durableName)
		}

		handle, err := engine.Subscribe(context.Background(), pattern, durability, func(_ context.Context, e envelope.Envelope) error {
			fmt.Printf("[%s] %s from %s: %v\n", e.ID, e.Type, e.Source, e.Data)
			return nil
		})
		if err != nil {
			return err
		}
		defer handle.Close()

		fmt.Printf("subscribed to events.%s (durable=%v), press Ctrl+C to stop\n", pattern, handle.Durable())

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		fmt.Println("\nshutting down...")
		return nil
	},
}
