package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ResolutionError represents a service or characteristic that a link does not expose
type ResolutionError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // [serviceUUID] or [serviceUUID, charUUID]
}

func (e *ResolutionError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// Is allows errors.Is to compare ResolutionError values by Resource
func (e *ResolutionError) Is(target error) bool {
	t, ok := target.(*ResolutionError)
	if !ok {
		return false
	}
	return e.Resource == t.Resource
}

// Resolution sentinels, matched by Resource only
var (
	ErrServiceNotFound        = &ResolutionError{Resource: "service"}
	ErrCharacteristicNotFound = &ResolutionError{Resource: "characteristic"}
)

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
	BluetoothOff     ConnectionState = "bluetooth_off"
)

// ConnectionError represents any transport-level connection problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
	ErrBluetoothOff     = &ConnectionError{State: BluetoothOff}
)

// ErrTimeout is returned by transports that bound a single operation
var ErrTimeout = errors.New("timeout")

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// Peripheral identifies a discovered remote device. Immutable once discovered.
type Peripheral struct {
	Address string
	Name    string
}

// DisplayName returns the advertised name, falling back to the address
func (p Peripheral) DisplayName() string {
	if strings.TrimSpace(p.Name) == "" {
		return p.Address
	}
	return p.Name
}

func (p Peripheral) String() string {
	if p.Name == "" {
		return p.Address
	}
	return fmt.Sprintf("%s (%s)", p.Name, p.Address)
}

// Advertisement is the subset of advertising data the scanner consumes
type Advertisement interface {
	LocalName() string
	Addr() string
	RSSI() int
	Connectable() bool
	Services() []string
}

// Transport is the BLE capability set the communication layer depends on
type Transport interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
	Connect(ctx context.Context, peripheral Peripheral) (Link, error)
}

// Link is one live transport session to exactly one peripheral
type Link interface {
	Peripheral() Peripheral
	Services(ctx context.Context) ([]Service, error)
	Characteristics(ctx context.Context, svc Service) ([]Characteristic, error)
	Read(ctx context.Context, char Characteristic) ([]byte, error)
	Write(ctx context.Context, char Characteristic, data []byte, confirmed bool) error
	Disconnect() error

	// Disconnected is closed when the transport reports the link dropped.
	// Transports without link supervision may return nil.
	Disconnected() <-chan struct{}
}

// Service represents a GATT service exposed by a link
type Service interface {
	UUID() string
}

// Characteristic represents a GATT characteristic exposed by a service
type Characteristic interface {
	UUID() string
	Handle() uint16
	Properties() Properties
}

// Properties is the GATT characteristic property bit set
type Properties uint8

const (
	PropBroadcast Properties = 1 << iota
	PropRead
	PropWriteWithoutResponse
	PropWrite
	PropNotify
	PropIndicate
	PropAuthenticatedSignedWrites
	PropExtendedProperties
)

// CanRead reports whether the characteristic supports reads
func (p Properties) CanRead() bool { return p&PropRead != 0 }

// CanWrite reports whether the characteristic supports acknowledged writes
func (p Properties) CanWrite() bool { return p&PropWrite != 0 }

func (p Properties) String() string {
	names := []struct {
		bit  Properties
		name string
	}{
		{PropBroadcast, "broadcast"},
		{PropRead, "read"},
		{PropWriteWithoutResponse, "write-without-response"},
		{PropWrite, "write"},
		{PropNotify, "notify"},
		{PropIndicate, "indicate"},
		{PropAuthenticatedSignedWrites, "signed-write"},
		{PropExtendedProperties, "extended"},
	}
	var parts []string
	for _, n := range names {
		if p&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, ",")
}
