package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/pinelink/internal/device"
)

const (
	// DefaultConnectTimeout bounds a single dial attempt.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultOperationTimeout bounds a single discovery, read or write round trip.
	// This prevents indefinite blocking if a device becomes unresponsive mid-operation.
	DefaultOperationTimeout = 5 * time.Second
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func() (ble.Device, error) {
	return newDefaultDevice()
}

// Options configures the go-ble transport
type Options struct {
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
}

// Transport implements device.Transport on top of go-ble
type Transport struct {
	logger *logrus.Logger
	opts   Options

	mu  sync.Mutex
	dev ble.Device
}

// NewTransport creates a transport; the host BLE device is opened lazily on first use
func NewTransport(logger *logrus.Logger, opts Options) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = DefaultOperationTimeout
	}
	return &Transport{logger: logger, opts: opts}
}

// device returns the shared host device, creating it once
func (t *Transport) device() (ble.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev != nil {
		return t.dev, nil
	}

	dev, err := DeviceFactory()
	if err != nil {
		t.logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	t.dev = dev
	return dev, nil
}

// Scan reports advertisements until ctx is done
func (t *Transport) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	dev, err := t.device()
	if err != nil {
		return err
	}

	bleHandler := func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	}
	err = dev.Scan(ctx, allowDup, bleHandler)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return NormalizeError(err)
	}
	return nil
}

// Connect dials the peripheral and returns a live link
func (t *Transport) Connect(ctx context.Context, peripheral device.Peripheral) (device.Link, error) {
	if strings.TrimSpace(peripheral.Address) == "" {
		t.logger.Error("Connection attempt with empty address")
		return nil, fmt.Errorf("device address is empty")
	}

	dev, err := t.device()
	if err != nil {
		return nil, err
	}

	t.logger.WithFields(logrus.Fields{
		"address": peripheral.Address,
		"timeout": t.opts.ConnectTimeout,
	}).Info("Connecting to BLE device...")

	connCtx, cancel := context.WithTimeout(ctx, t.opts.ConnectTimeout)
	defer cancel()

	client, err := dev.Dial(connCtx, ble.NewAddr(peripheral.Address))
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"address": peripheral.Address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", peripheral.Address, NormalizeError(err))
	}

	t.logger.WithField("address", peripheral.Address).Info("BLE link established")
	return newLink(client, peripheral, t.opts.OperationTimeout, t.logger), nil
}
