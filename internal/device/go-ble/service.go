package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/pinelink/internal/device"
)

// BLEService wraps a discovered ble.Service
type BLEService struct {
	uuid string
	svc  *ble.Service
}

func newService(s *ble.Service) *BLEService {
	return &BLEService{uuid: device.NormalizeUUID(s.UUID.String()), svc: s}
}

func (s *BLEService) UUID() string {
	return s.uuid
}

// BLECharacteristic wraps a discovered ble.Characteristic
type BLECharacteristic struct {
	uuid    string
	BLEChar *ble.Characteristic
}

func newCharacteristic(c *ble.Characteristic) *BLECharacteristic {
	return &BLECharacteristic{uuid: device.NormalizeUUID(c.UUID.String()), BLEChar: c}
}

func (c *BLECharacteristic) UUID() string {
	return c.uuid
}

func (c *BLECharacteristic) Handle() uint16 {
	return c.BLEChar.ValueHandle
}

// Properties maps ble.Property bits; both follow the GATT property bit layout.
func (c *BLECharacteristic) Properties() device.Properties {
	return device.Properties(c.BLEChar.Property)
}
