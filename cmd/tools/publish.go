package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"climatelog/internal/logging"
	"climatelog/internal/mqtt"
)

var (
	publishTemperature float64
	publishHumidity    float64
	publishTimestamp   string
	publishTimeout     time.Duration
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish one reading to the configured MQTT topic",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reading := mqtt.Reading{Temperature: publishTemperature, Humidity: publishHumidity}
		if publishTimestamp != "" {
			t, err := time.Parse(time.RFC3339Nano, publishTimestamp)
			if err != nil {
				return fmt.Errorf("invalid --timestamp %q: %w", publishTimestamp, err)
			}
			reading.Timestamp = &t
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), publishTimeout)
		defer cancel()

		pub := mqtt.NewPublisher(cfg, logging.Component(logger, "mqtt"))
		if err := pub.Connect(ctx); err != nil {
			return err
		}
		defer pub.Disconnect()

		if err := pub.Publish(ctx, reading); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "published to %s\n", cfg.MQTTTopic)
		return nil
	},
}

func init() {
	f := publishCmd.Flags()
	f.Float64Var(&publishTemperature, "temperature", 0, "temperature in degrees Celsius")
	f.Float64Var(&publishHumidity, "humidity", 0, "relative humidity in percent")
	f.StringVar(&publishTimestamp, "timestamp", "", "reading time (RFC3339); omitted means the receiver's clock")
	f.DurationVar(&publishTimeout, "timeout", 10*time.Second, "connect and publish deadline")
	_ = publishCmd.MarkFlagRequired("temperature")
	_ = publishCmd.MarkFlagRequired("humidity")
}
