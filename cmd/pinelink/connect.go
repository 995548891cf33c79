package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/srg/pinelink/internal/device"
	"github.com/srg/pinelink/internal/devicefactory"
	"github.com/srg/pinelink/internal/groutine"
	"github.com/srg/pinelink/internal/telemetry"
	"github.com/srg/pinelink/pkg/config"
	"github.com/srg/pinelink/pkg/connection"
)

// phaseNames maps manager states to progress phases
var phaseNames = map[connection.State]string{
	connection.StateConnecting: "Connecting",
	connection.StateResolving:  "Resolving services",
	connection.StateStreaming:  "Streaming",
	connection.StateError:      "Failed",
}

// session bundles the manager of one CLI run with what it is connected to
type session struct {
	manager *connection.Manager
	target  device.Peripheral

	// held are loss notifications the connect progress pump consumed
	held []connection.Notification
}

// openSession resolves the target argument and connects to it, showing progress on out
func openSession(ctx context.Context, arg string, cfg *config.Config, logger *logrus.Logger, out io.Writer, showProgress bool) (*session, error) {
	transport := devicefactory.NewTransport(cfg, logger)

	target, err := resolveTarget(ctx, transport, arg, cfg, logger)
	if err != nil {
		return nil, err
	}

	m := connection.NewManager(transport, logger, connection.OptionsFromConfig(cfg))
	held, err := connectWithProgress(ctx, m, target, out, showProgress)
	if err != nil {
		m.Disconnect()
		return nil, err
	}
	return &session{manager: m, target: target, held: held}, nil
}

// Close disconnects; safe to call more than once
func (s *session) Close() {
	s.manager.Disconnect()
}

// lost reports a connection loss that happened while connecting finished, or nil
func (s *session) lost() error {
	for _, n := range s.held {
		if n.Kind == connection.ConnectionLost {
			return fmt.Errorf("%w: %w", ErrConnectionLost, n.Err)
		}
	}
	return nil
}

// connectWithProgress runs Connect while turning state notifications into progress phases.
// Failure and loss notifications the pump takes off the channel are returned, so a loss
// that races the end of Connect is not swallowed. Anything unread stays queued.
func connectWithProgress(ctx context.Context, m *connection.Manager, target device.Peripheral, out io.Writer, showProgress bool) ([]connection.Notification, error) {
	progress := NewProgressPrinter(out, fmt.Sprintf("Connecting to %s", target), "Connecting", "Streaming", "Failed")
	if !showProgress {
		progress.Disable()
	}
	progress.Start()
	defer progress.Stop()

	update := progress.Callback()
	var held []connection.Notification
	done := make(chan struct{})
	pumped := groutine.Go(ctx, "connect-progress", func(context.Context) {
		for {
			select {
			case <-done:
				return
			case n := <-m.Notifications():
				if n.Kind != connection.StateChanged {
					held = append(held, n)
					continue
				}
				if phase, ok := phaseNames[n.State]; ok {
					update(phase)
				}
			}
		}
	})

	err := m.Connect(ctx, target)
	close(done)
	<-pumped
	return held, err
}

// waitReading returns the latest reading, waiting up to timeout for the first one
func waitReading(ctx context.Context, m *connection.Manager, timeout time.Duration) (telemetry.Reading, error) {
	if r, ok := m.Current(); ok {
		return r, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-m.Readings():
		return r, nil
	case <-timer.C:
		return telemetry.Reading{}, fmt.Errorf("%w: no telemetry within %s", device.ErrTimeout, timeout)
	case <-ctx.Done():
		return telemetry.Reading{}, ctx.Err()
	}
}

// tipColor colors the tip temperature by how close it is to the setpoint
func tipColor(r telemetry.Reading) *color.Color {
	const band = 5.0
	switch {
	case r.Setpoint == 0:
		return color.New(color.Reset)
	case r.Temperature < r.Setpoint-band:
		return color.New(color.FgCyan)
	case r.Temperature > r.Setpoint+band:
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.FgGreen)
	}
}
