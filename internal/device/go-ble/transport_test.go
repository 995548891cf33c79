package goble

import (
	"context"
	"errors"
	"testing"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/pinelink/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevice implements the ble.Device calls the transport makes
type fakeDevice struct {
	ble.Device

	client  ble.Client
	dialErr error
	dialed  []string
	ads     []ble.Advertisement
}

func (d *fakeDevice) Dial(_ context.Context, a ble.Addr) (ble.Client, error) {
	d.dialed = append(d.dialed, a.String())
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return d.client, nil
}

func (d *fakeDevice) Scan(ctx context.Context, _ bool, h ble.AdvHandler) error {
	for _, a := range d.ads {
		h(a)
	}
	<-ctx.Done()
	return ctx.Err()
}

func withDevice(t *testing.T, dev ble.Device, err error) {
	t.Helper()
	original := DeviceFactory
	DeviceFactory = func() (ble.Device, error) { return dev, err }
	t.Cleanup(func() { DeviceFactory = original })
}

func TestTransport_Connect(t *testing.T) {
	dev := &fakeDevice{client: newFakeClient()}
	withDevice(t, dev, nil)

	tr := NewTransport(logrus.New(), Options{})
	link, err := tr.Connect(context.Background(), device.Peripheral{Address: "aa:bb:cc:dd:ee:ff", Name: "Pinecil"})
	require.NoError(t, err)

	assert.Equal(t, "Pinecil", link.Peripheral().Name)
	assert.Equal(t, []string{"aa:bb:cc:dd:ee:ff"}, dev.dialed)
	assert.Equal(t, DefaultOperationTimeout, link.(*BLELink).timeout)
}

func TestTransport_ConnectErrors(t *testing.T) {
	t.Run("empty address", func(t *testing.T) {
		withDevice(t, &fakeDevice{}, nil)
		_, err := NewTransport(nil, Options{}).Connect(context.Background(), device.Peripheral{Address: " "})
		assert.ErrorContains(t, err, "address is empty")
	})

	t.Run("device unavailable", func(t *testing.T) {
		withDevice(t, nil, errors.New("Bluetooth is turned off"))
		_, err := NewTransport(nil, Options{}).Connect(context.Background(), device.Peripheral{Address: "aa:bb:cc:dd:ee:ff"})
		assert.ErrorIs(t, err, device.ErrBluetoothOff)
	})

	t.Run("dial failure", func(t *testing.T) {
		withDevice(t, &fakeDevice{dialErr: errors.New("device already connected")}, nil)
		_, err := NewTransport(nil, Options{}).Connect(context.Background(), device.Peripheral{Address: "aa:bb:cc:dd:ee:ff"})
		assert.ErrorIs(t, err, device.ErrAlreadyConnected)
		assert.ErrorContains(t, err, "aa:bb:cc:dd:ee:ff")
	})
}

func TestTransport_ScanStopsOnContext(t *testing.T) {
	withDevice(t, &fakeDevice{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewTransport(nil, Options{}).Scan(ctx, false, func(device.Advertisement) {})
	assert.NoError(t, err, "scan ending by context MUST NOT be an error")
}
