// Package bledb names the GATT attributes an IronOS iron exposes.
//
// The table covers the IronOS services and characteristics plus the standard
// Bluetooth SIG attributes irons advertise next to them. Lookups accept any
// UUID spelling NormalizeUUID understands.
package bledb

import (
	"github.com/srg/pinelink/internal/device"
	"github.com/srg/pinelink/pkg/config"
)

var services = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"180a": "Device Information",
	"180f": "Battery Service",

	config.BulkServiceUUID:     "IronOS Bulk Data",
	config.SettingsServiceUUID: "IronOS Settings",
}

var characteristics = map[string]string{
	"2a00": "Device Name",
	"2a01": "Appearance",
	"2a19": "Battery Level",
	"2a24": "Model Number String",
	"2a26": "Firmware Revision String",
	"2a29": "Manufacturer Name String",

	config.BulkLiveDataCharUUID: "IronOS Live Data",
	config.SetpointCharUUID:     "IronOS Setpoint",
}

var descriptors = map[string]string{
	"2901": "Characteristic User Description",
	"2902": "Client Characteristic Configuration",
}

func init() {
	// the IronOS keys above are written in dashed form
	for _, table := range []map[string]string{services, characteristics, descriptors} {
		for k, v := range table {
			if n := device.NormalizeUUID(k); n != k {
				delete(table, k)
				table[n] = v
			}
		}
	}
}

// NormalizeUUID returns the lookup key for uuid: lowercase hex without dashes,
// Bluetooth SIG base UUIDs collapsed to their 16-bit form. Invalid input yields "".
func NormalizeUUID(uuid string) string {
	return device.NormalizeUUID(uuid)
}

// LookupService returns the service name for uuid, or ""
func LookupService(uuid string) string {
	return services[NormalizeUUID(uuid)]
}

// LookupCharacteristic returns the characteristic name for uuid, or ""
func LookupCharacteristic(uuid string) string {
	return characteristics[NormalizeUUID(uuid)]
}

// LookupDescriptor returns the descriptor name for uuid, or ""
func LookupDescriptor(uuid string) string {
	return descriptors[NormalizeUUID(uuid)]
}

// ServiceLabel returns the service name, falling back to the UUID itself
func ServiceLabel(uuid string) string {
	if name := LookupService(uuid); name != "" {
		return name
	}
	return uuid
}
