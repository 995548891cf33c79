package connection

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/pinelink/internal/device"
	"github.com/srg/pinelink/internal/metrics"
	"github.com/srg/pinelink/internal/telemetry"
)

var (
	// ErrNotConnected is matched by writes attempted outside the streaming state
	ErrNotConnected = device.ErrNotConnected

	// ErrWriteRejected is matched by writes the transport or peripheral refused
	ErrWriteRejected = errors.New("write rejected")
)

// WriteError reports a failed setpoint write
type WriteError struct {
	Value  int
	Reason error // ErrNotConnected or ErrWriteRejected
	Cause  error
}

func (e *WriteError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("set setpoint %d: %v", e.Value, e.Reason)
	}
	return fmt.Sprintf("set setpoint %d: %v: %v", e.Value, e.Reason, e.Cause)
}

// Is matches the failure reason
func (e *WriteError) Is(target error) bool {
	return e.Reason != nil && errors.Is(e.Reason, target)
}

func (e *WriteError) Unwrap() error { return e.Cause }

// SetParameter writes a new setpoint with a confirmed write.
// A failed write leaves the connection state unchanged.
func (m *Manager) SetParameter(ctx context.Context, value int) error {
	m.mu.Lock()
	conn := m.conn
	state := m.stateLocked()
	m.mu.Unlock()

	log := m.logger.WithField("value", value)

	if state != StateStreaming || conn == nil {
		metrics.ParameterWritesTotal.WithLabelValues("not_connected").Inc()
		log.WithField("state", state).Warn("Setpoint write while not streaming")
		return &WriteError{Value: value, Reason: ErrNotConnected}
	}

	payload, err := telemetry.EncodeSetpoint(value)
	if err != nil {
		metrics.ParameterWritesTotal.WithLabelValues("invalid").Inc()
		return err
	}

	ref, ok := conn.cached(m.opts.SettingsService, m.opts.SettingsCharacteristic)
	link := conn.Link()
	if !ok || link == nil {
		metrics.ParameterWritesTotal.WithLabelValues("not_connected").Inc()
		return &WriteError{Value: value, Reason: ErrNotConnected}
	}

	if err := link.Write(ctx, ref.Char, payload, true); err != nil {
		metrics.ParameterWritesTotal.WithLabelValues("rejected").Inc()
		log.WithFields(logrus.Fields{
			"characteristic": ref.String(),
			"error":          err,
		}).Error("Setpoint write rejected")
		return &WriteError{Value: value, Reason: ErrWriteRejected, Cause: err}
	}

	metrics.ParameterWritesTotal.WithLabelValues("ok").Inc()
	log.WithField("characteristic", ref.String()).Info("Setpoint written")
	return nil
}
