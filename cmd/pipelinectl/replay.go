package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fjod/commerce-pipeline/pkg/broker"
	"github.com/fjod/commerce-pipeline/pkg/config"
	"github.com/spf13/cobra"
)

func replayCmd() *cobra.Command {
	var (
		topic  string
		file   string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Publish the events in a JSON file to a topic",
		Long: `Publish the events in a JSON file to a topic.

The file holds one JSON object or an array of objects. Broker settings come from
the same environment as the services (BROKER_KIND, RABBITMQ_URL, KAFKA_BROKERS).

Examples:
  pipelinectl replay --topic ORDER_SELLER_DASHBOARD.ORDER_CREATED --file orders.json
  pipelinectl replay --topic PAYMENT_NOTIFICATION.PAYMENT_FAILED --file failed.json --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("open %s: %w", file, err)
			}
			defer f.Close()

			payloads, err := readEvents(f)
			if err != nil {
				return fmt.Errorf("read %s: %w", file, err)
			}
			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "%d events would be published to %s\n", len(payloads), topic)
				return nil
			}

			v, err := config.Load(config.BrokerDefaults())
			if err != nil {
				return err
			}
			bus, err := broker.New(config.BrokerFrom(v), "pipelinectl", slog.Default())
			if err != nil {
				return err
			}
			defer bus.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			n, err := replay(ctx, bus, topic, payloads)
			fmt.Fprintf(cmd.OutOrStdout(), "published %d/%d events to %s\n", n, len(payloads), topic)
			return err
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "destination topic")
	cmd.Flags().StringVar(&file, "file", "", "JSON file with one event or an array of events")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the file without publishing")
	_ = cmd.MarkFlagRequired("topic")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// readEvents accepts a single JSON object or an array of objects.
func readEvents(r io.Reader) ([]json.RawMessage, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("file is empty")
	}

	var payloads []json.RawMessage
	switch data[0] {
	case '{':
		if !json.Valid(data) {
			return nil, errors.New("invalid JSON object")
		}
		payloads = []json.RawMessage{data}
	case '[':
		if err := json.Unmarshal(data, &payloads); err != nil {
			return nil, fmt.Errorf("invalid JSON array: %w", err)
		}
	default:
		return nil, errors.New("expected a JSON object or array")
	}

	for i, p := range payloads {
		if t := bytes.TrimSpace(p); len(t) == 0 || t[0] != '{' {
			return nil, fmt.Errorf("event %d is not a JSON object", i)
		}
	}
	return payloads, nil
}

// replay publishes payloads in order and stops at the first failure.
func replay(ctx context.Context, pub broker.Publisher, topic string, payloads []json.RawMessage) (int, error) {
	for i, p := range payloads {
		if err := pub.Publish(ctx, topic, p); err != nil {
			return i, fmt.Errorf("publish event %d: %w", i, err)
		}
	}
	return len(payloads), nil
}
