package goble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/pinelink/internal/device"
)

// BLELink represents a live go-ble client session to one peripheral
type BLELink struct {
	client     ble.Client
	peripheral device.Peripheral
	timeout    time.Duration
	logger     *logrus.Logger

	writeMutex sync.Mutex
	connMutex  sync.RWMutex
	closed     bool
}

func newLink(client ble.Client, peripheral device.Peripheral, timeout time.Duration, logger *logrus.Logger) *BLELink {
	return &BLELink{
		client:     client,
		peripheral: peripheral,
		timeout:    timeout,
		logger:     logger,
	}
}

func (l *BLELink) Peripheral() device.Peripheral {
	return l.peripheral
}

// activeClient snapshots the client, failing if the link was torn down
func (l *BLELink) activeClient() (ble.Client, error) {
	l.connMutex.RLock()
	defer l.connMutex.RUnlock()
	if l.closed || l.client == nil {
		return nil, device.ErrNotConnected
	}
	return l.client, nil
}

// Services discovers the primary services exposed by the peripheral
func (l *BLELink) Services(ctx context.Context) ([]device.Service, error) {
	client, err := l.activeClient()
	if err != nil {
		return nil, err
	}

	bleServices, err := withTimeout(ctx, l.timeout, func() ([]*ble.Service, error) {
		return client.DiscoverServices(nil)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", NormalizeError(err))
	}

	result := make([]device.Service, 0, len(bleServices))
	for _, s := range bleServices {
		l.logger.WithField("service_uuid", s.UUID.String()).Debug("Found service UUID")
		result = append(result, newService(s))
	}
	return result, nil
}

// Characteristics discovers the characteristics of a service returned by Services
func (l *BLELink) Characteristics(ctx context.Context, svc device.Service) ([]device.Characteristic, error) {
	bleSvc, ok := svc.(*BLEService)
	if !ok || bleSvc.svc == nil {
		return nil, fmt.Errorf("service %s was not discovered on this link", svc.UUID())
	}

	client, err := l.activeClient()
	if err != nil {
		return nil, err
	}

	bleChars, err := withTimeout(ctx, l.timeout, func() ([]*ble.Characteristic, error) {
		return client.DiscoverCharacteristics(nil, bleSvc.svc)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover characteristics of service %s: %w", bleSvc.uuid, NormalizeError(err))
	}

	result := make([]device.Characteristic, 0, len(bleChars))
	for _, c := range bleChars {
		l.logger.WithFields(logrus.Fields{
			"service_uuid": bleSvc.uuid,
			"char_uuid":    c.UUID.String(),
		}).Debug("Found characteristic UUID")
		result = append(result, newCharacteristic(c))
	}
	return result, nil
}

// Read reads the current value of the characteristic from the device
func (l *BLELink) Read(ctx context.Context, char device.Characteristic) ([]byte, error) {
	bleChar, err := unwrapCharacteristic(char)
	if err != nil {
		return nil, err
	}

	client, err := l.activeClient()
	if err != nil {
		return nil, err
	}

	data, err := withTimeout(ctx, l.timeout, func() ([]byte, error) {
		return client.ReadCharacteristic(bleChar.BLEChar)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read characteristic %s: %w", bleChar.uuid, NormalizeError(err))
	}
	return data, nil
}

// Write writes data to the characteristic; confirmed writes wait for the peripheral's acknowledgment
func (l *BLELink) Write(ctx context.Context, char device.Characteristic, data []byte, confirmed bool) error {
	bleChar, err := unwrapCharacteristic(char)
	if err != nil {
		return err
	}

	client, err := l.activeClient()
	if err != nil {
		return err
	}

	// Serialize writes per link
	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()

	_, err = withTimeout(ctx, l.timeout, func() (struct{}, error) {
		return struct{}{}, client.WriteCharacteristic(bleChar.BLEChar, data, !confirmed)
	})
	if err != nil {
		return fmt.Errorf("failed to write characteristic %s: %w", bleChar.uuid, NormalizeError(err))
	}

	l.logger.WithFields(logrus.Fields{
		"char_uuid": bleChar.uuid,
		"bytes":     len(data),
		"confirmed": confirmed,
	}).Debug("Wrote characteristic")
	return nil
}

// Disconnect cancels the client connection. Safe to call more than once.
func (l *BLELink) Disconnect() error {
	l.connMutex.Lock()
	if l.closed || l.client == nil {
		l.connMutex.Unlock()
		l.logger.Debug("Disconnect called but already disconnected")
		return nil
	}
	client := l.client
	l.closed = true
	l.connMutex.Unlock()

	l.logger.WithField("address", l.peripheral.Address).Info("Disconnecting BLE device...")

	// Network call outside the lock
	if err := NormalizeError(client.CancelConnection()); err != nil {
		l.logger.WithField("error", err).Warn("BLE device disconnected with errors")
		return err
	}

	l.logger.Info("BLE device disconnected successfully")
	return nil
}

// Disconnected is closed when the go-ble client reports the link dropped
func (l *BLELink) Disconnected() <-chan struct{} {
	return l.client.Disconnected()
}

func unwrapCharacteristic(char device.Characteristic) (*BLECharacteristic, error) {
	bleChar, ok := char.(*BLECharacteristic)
	if !ok || bleChar.BLEChar == nil {
		return nil, fmt.Errorf("characteristic %s not initialized", char.UUID())
	}
	return bleChar, nil
}

// withTimeout runs a blocking go-ble call, giving up when ctx is done or timeout elapses.
// go-ble calls are not cancellable; an abandoned call finishes in the background and its result is dropped.
func withTimeout[T any](ctx context.Context, timeout time.Duration, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	resultCh := make(chan result, 1)

	go func() {
		v, err := fn()
		resultCh <- result{v: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var zero T
	select {
	case r := <-resultCh:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-timer.C:
		return zero, fmt.Errorf("%w after %v", device.ErrTimeout, timeout)
	}
}
