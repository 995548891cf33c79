package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/pinelink/internal/metrics"
	"github.com/srg/pinelink/internal/telemetry"
	"github.com/srg/pinelink/pkg/connection"
	"golang.org/x/sync/errgroup"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor [address|name]",
	Short: "Stream live telemetry from an iron",
	Long: `Connect to an iron and print its live telemetry until interrupted.

Without an argument the strongest iron in range is used. A name scans for an iron
advertising that name; an address connects directly.

With --metrics-addr the latest values are also served as Prometheus metrics.`,
	Example: `  pinelink monitor
  pinelink monitor AA:BB:CC:DD:EE:FF --duration 1m
  pinelink monitor Pinecil-1A2B3C --format json --metrics-addr :9100`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMonitor,
}

var (
	monitorDuration    time.Duration
	monitorFormat      string
	monitorMetricsAddr string
	monitorInterval    time.Duration
	monitorNoColor     bool
)

func init() {
	monitorCmd.Flags().DurationVarP(&monitorDuration, "duration", "d", 0, "Stop after this long (0 runs until interrupted)")
	monitorCmd.Flags().StringVarP(&monitorFormat, "format", "f", "text", "Output format (text, json)")
	monitorCmd.Flags().StringVar(&monitorMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	monitorCmd.Flags().DurationVarP(&monitorInterval, "interval", "i", 0, "Poll interval (default from config poll_interval)")
	monitorCmd.Flags().BoolVar(&monitorNoColor, "no-color", false, "Disable colored output")
}

// readingJSON is the JSON-lines shape of one reading
type readingJSON struct {
	Time              time.Time `json:"time"`
	Temperature       float64   `json:"temperature"`
	Setpoint          float64   `json:"setpoint"`
	InputVoltage      float64   `json:"input_voltage"`
	HandleTemperature float64   `json:"handle_temperature"`
	PowerWatts        float64   `json:"power"`
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if monitorFormat != "text" && monitorFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [text json]", monitorFormat)
	}

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if monitorInterval > 0 {
		cfg.PollInterval = monitorInterval
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	cmd.SilenceUsage = true
	configureColor(monitorNoColor)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if monitorDuration > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, monitorDuration)
		defer cancelTimeout()
	}

	target := ""
	if len(args) > 0 {
		target = args[0]
	}

	out := cmd.OutOrStdout()
	sess, err := openSession(ctx, target, cfg, logger, out, isTerminal() && monitorFormat == "text")
	if err != nil {
		if monitorDuration > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("connect did not finish within --duration %s: %w", monitorDuration, err)
		}
		return err
	}
	defer sess.Close()
	if err := sess.lost(); err != nil {
		return err
	}

	if monitorFormat == "text" {
		fmt.Fprintf(out, "Connected to %s\n", sess.target)
	}

	g, gctx := errgroup.WithContext(ctx)
	if monitorMetricsAddr != "" {
		srv := metrics.NewServer(monitorMetricsAddr, logger)
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}
	g.Go(func() error {
		return streamReadings(gctx, sess.manager, out, monitorFormat)
	})

	err = g.Wait()
	if err == nil && monitorFormat == "text" {
		fmt.Fprintln(out, "Disconnected.")
	}
	return err
}

// streamReadings prints readings until ctx ends or the connection is lost
func streamReadings(ctx context.Context, m *connection.Manager, out io.Writer, format string) error {
	enc := json.NewEncoder(out)
	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-m.Readings():
			if format == "json" {
				if err := enc.Encode(toReadingJSON(r)); err != nil {
					return err
				}
				continue
			}
			fmt.Fprintln(out, formatReading(r))
		case n := <-m.Notifications():
			switch n.Kind {
			case connection.ConnectionLost, connection.ConnectionFailed:
				return fmt.Errorf("%w: %w", ErrConnectionLost, n.Err)
			}
		}
	}
}

func toReadingJSON(r telemetry.Reading) readingJSON {
	at := r.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}
	return readingJSON{
		Time:              at.UTC(),
		Temperature:       r.Temperature,
		Setpoint:          r.Setpoint,
		InputVoltage:      r.InputVoltage,
		HandleTemperature: r.HandleTemperature,
		PowerWatts:        r.PowerWatts,
	}
}

// formatReading renders one line such as
// "12:04:05  Tip 200°C / 210°C  Input 12.0V  Handle 25.0°C  Power 30.5W"
func formatReading(r telemetry.Reading) string {
	at := r.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}

	fields := r.Fields()
	tip, _ := fields.Get("temperature")
	setpoint, _ := fields.Get("setpoint")
	voltage, _ := fields.Get("input_voltage")
	handle, _ := fields.Get("handle_temperature")
	power, _ := fields.Get("power")

	return fmt.Sprintf("%s  Tip %s / %s  Input %s  Handle %s  Power %s",
		at.Format("15:04:05"),
		tipColor(r).Sprint(tip.Format()),
		setpoint.Format(),
		voltage.Format(),
		handle.Format(),
		power.Format(),
	)
}
