// Package mocks holds testify mocks for the device transport interfaces.
package mocks

import (
	"context"

	"github.com/srg/pinelink/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockTransport is a testify mock of device.Transport
type MockTransport struct {
	mock.Mock
}

// Scan provides a mock function with given fields: ctx, allowDup, handler
func (m *MockTransport) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	ret := m.Called(ctx, allowDup, handler)

	if rf, ok := ret.Get(0).(func(context.Context, bool, func(device.Advertisement)) error); ok {
		return rf(ctx, allowDup, handler)
	}
	return ret.Error(0)
}

// Connect provides a mock function with given fields: ctx, peripheral
func (m *MockTransport) Connect(ctx context.Context, peripheral device.Peripheral) (device.Link, error) {
	ret := m.Called(ctx, peripheral)

	if rf, ok := ret.Get(0).(func(context.Context, device.Peripheral) (device.Link, error)); ok {
		return rf(ctx, peripheral)
	}

	var link device.Link
	if v := ret.Get(0); v != nil {
		link = v.(device.Link)
	}
	return link, ret.Error(1)
}

// MockLink is a testify mock of device.Link
type MockLink struct {
	mock.Mock
}

// Peripheral provides a mock function with no fields
func (m *MockLink) Peripheral() device.Peripheral {
	ret := m.Called()
	return ret.Get(0).(device.Peripheral)
}

// Services provides a mock function with given fields: ctx
func (m *MockLink) Services(ctx context.Context) ([]device.Service, error) {
	ret := m.Called(ctx)

	if rf, ok := ret.Get(0).(func(context.Context) ([]device.Service, error)); ok {
		return rf(ctx)
	}

	var services []device.Service
	if v := ret.Get(0); v != nil {
		services = v.([]device.Service)
	}
	return services, ret.Error(1)
}

// Characteristics provides a mock function with given fields: ctx, svc
func (m *MockLink) Characteristics(ctx context.Context, svc device.Service) ([]device.Characteristic, error) {
	ret := m.Called(ctx, svc)

	if rf, ok := ret.Get(0).(func(context.Context, device.Service) ([]device.Characteristic, error)); ok {
		return rf(ctx, svc)
	}

	var chars []device.Characteristic
	if v := ret.Get(0); v != nil {
		chars = v.([]device.Characteristic)
	}
	return chars, ret.Error(1)
}

// Read provides a mock function with given fields: ctx, char
func (m *MockLink) Read(ctx context.Context, char device.Characteristic) ([]byte, error) {
	ret := m.Called(ctx, char)

	if rf, ok := ret.Get(0).(func(context.Context, device.Characteristic) ([]byte, error)); ok {
		return rf(ctx, char)
	}

	var data []byte
	if v := ret.Get(0); v != nil {
		data = v.([]byte)
	}
	return data, ret.Error(1)
}

// Write provides a mock function with given fields: ctx, char, data, confirmed
func (m *MockLink) Write(ctx context.Context, char device.Characteristic, data []byte, confirmed bool) error {
	ret := m.Called(ctx, char, data, confirmed)

	if rf, ok := ret.Get(0).(func(context.Context, device.Characteristic, []byte, bool) error); ok {
		return rf(ctx, char, data, confirmed)
	}
	return ret.Error(0)
}

// Disconnect provides a mock function with no fields
func (m *MockLink) Disconnect() error {
	ret := m.Called()

	if rf, ok := ret.Get(0).(func() error); ok {
		return rf()
	}
	return ret.Error(0)
}

// Disconnected provides a mock function with no fields
func (m *MockLink) Disconnected() <-chan struct{} {
	ret := m.Called()

	if v := ret.Get(0); v != nil {
		switch ch := v.(type) {
		case chan struct{}:
			return ch
		case <-chan struct{}:
			return ch
		}
	}
	return nil
}
