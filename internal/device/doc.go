// Package device defines the transport abstractions the communication layer is built on.
//
// It provides:
//   - Transport and Link interfaces covering scan, connect, service/characteristic listing,
//     read, confirmed write and disconnect
//   - Characteristic resolution into cacheable CharacteristicRef values
//   - Typed transport and resolution errors with errors.Is support
//   - UUID normalization shared by every layer that compares identifiers
//
// The go-ble backed implementation lives in the go-ble subpackage.
package device
