package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/srg/pinelink/internal/device"
	"github.com/srg/pinelink/internal/testutils/mocks"
	"github.com/stretchr/testify/mock"
)

// CharacteristicConfig represents a GATT characteristic in a mocked profile
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Handle     uint16 `json:"handle,omitempty"`
	Properties string `json:"properties,omitempty"` // e.g., "read,write"
	Value      []byte `json:"value,omitempty"`
}

// ServiceConfig represents a GATT service in a mocked profile
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// PeripheralProfileConfig represents the complete mocked peripheral
type PeripheralProfileConfig struct {
	Address  string          `json:"address"`
	Name     string          `json:"name,omitempty"`
	Services []ServiceConfig `json:"services"`
}

// ReadFunc produces the n-th (0-based) read result of a characteristic
type ReadFunc func(ctx context.Context, n int) ([]byte, error)

// ConnectFunc replaces the default transport dial behaviour
type ConnectFunc func(ctx context.Context, p device.Peripheral) error

// PeripheralBuilder builds a mocked transport serving one peripheral profile
type PeripheralBuilder struct {
	profile     PeripheralProfileConfig
	reads       map[string]ReadFunc
	writeErrs   map[string]error
	connect     ConnectFunc
	disconnect  error
	teardown    func() error
	adverts     []device.Advertisement
	noSupervise bool
}

// NewPeripheralBuilder creates an empty builder
func NewPeripheralBuilder() *PeripheralBuilder {
	return &PeripheralBuilder{
		profile:   PeripheralProfileConfig{Address: "AA:BB:CC:DD:EE:FF"},
		reads:     make(map[string]ReadFunc),
		writeErrs: make(map[string]error),
	}
}

// FromJSON fills the profile from JSON
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var cfg PeripheralProfileConfig
	if err := json.Unmarshal([]byte(jsonStr), &cfg); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	if cfg.Address == "" {
		cfg.Address = b.profile.Address
	}

	b.profile = cfg
	return b
}

// WithService adds a service to the profile
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string, value []byte) *PeripheralBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics,
		CharacteristicConfig{UUID: uuid, Properties: properties, Value: value})
	return b
}

// WithReads scripts the reads of a characteristic
func (b *PeripheralBuilder) WithReads(charUUID string, fn ReadFunc) *PeripheralBuilder {
	b.reads[device.NormalizeUUID(charUUID)] = fn
	return b
}

// WithWriteError makes writes to a characteristic fail
func (b *PeripheralBuilder) WithWriteError(charUUID string, err error) *PeripheralBuilder {
	b.writeErrs[device.NormalizeUUID(charUUID)] = err
	return b
}

// WithConnect replaces the dial behaviour; a non-nil error fails the dial
func (b *PeripheralBuilder) WithConnect(fn ConnectFunc) *PeripheralBuilder {
	b.connect = fn
	return b
}

// WithDisconnectError makes link teardown report err
func (b *PeripheralBuilder) WithDisconnectError(err error) *PeripheralBuilder {
	b.disconnect = err
	return b
}

// WithDisconnect replaces link teardown; fn may block to hold a disconnect open
func (b *PeripheralBuilder) WithDisconnect(fn func() error) *PeripheralBuilder {
	b.teardown = fn
	return b
}

// WithoutLinkSupervision makes links report a nil Disconnected channel
func (b *PeripheralBuilder) WithoutLinkSupervision() *PeripheralBuilder {
	b.noSupervise = true
	return b
}

// WithAdvertisements sets what Scan reports
func (b *PeripheralBuilder) WithAdvertisements(ads ...device.Advertisement) *PeripheralBuilder {
	b.adverts = append(b.adverts, ads...)
	return b
}

// Peripheral returns the identity of the profiled device
func (b *PeripheralBuilder) Peripheral() device.Peripheral {
	return device.Peripheral{Address: b.profile.Address, Name: b.profile.Name}
}

// Build creates the mocked transport and the fake backing it
func (b *PeripheralBuilder) Build() (*mocks.MockTransport, *FakePeripheral) {
	fake := &FakePeripheral{
		builder:   b,
		values:    make(map[string][]byte),
		readCalls: make(map[string]int),
	}
	for _, svc := range b.profile.Services {
		for _, c := range svc.Characteristics {
			fake.values[device.NormalizeUUID(c.UUID)] = append([]byte(nil), c.Value...)
		}
	}

	transport := &mocks.MockTransport{}
	transport.On("Connect", mock.Anything, mock.Anything).Return(fake.dial)
	transport.On("Scan", mock.Anything, mock.Anything, mock.Anything).Return(
		func(ctx context.Context, _ bool, handler func(device.Advertisement)) error {
			for _, adv := range b.adverts {
				handler(adv)
			}
			<-ctx.Done()
			return nil
		})

	fake.transport = transport
	return transport, fake
}

// Write records one write issued to the fake
type Write struct {
	Characteristic string
	Data           []byte
	Confirmed      bool
}

// FakePeripheral is the state behind a built transport
type FakePeripheral struct {
	builder   *PeripheralBuilder
	transport *mocks.MockTransport

	mu        sync.Mutex
	links     []*mocks.MockLink
	drops     []chan struct{}
	values    map[string][]byte
	readCalls map[string]int
	writes    []Write
}

func (f *FakePeripheral) dial(ctx context.Context, p device.Peripheral) (device.Link, error) {
	if f.builder.connect != nil {
		if err := f.builder.connect(ctx, p); err != nil {
			return nil, err
		}
	}

	services := make([]device.Service, 0, len(f.builder.profile.Services))
	chars := make(map[string][]device.Characteristic)
	var handle uint16 = 0x0010
	for _, sc := range f.builder.profile.Services {
		svc := &Service{ID: sc.UUID}
		services = append(services, svc)
		for _, cc := range sc.Characteristics {
			handle += 2
			h := cc.Handle
			if h == 0 {
				h = handle
			}
			chars[device.NormalizeUUID(sc.UUID)] = append(chars[device.NormalizeUUID(sc.UUID)], &Characteristic{
				ID:    cc.UUID,
				H:     h,
				Props: ParseProperties(cc.Properties),
			})
		}
	}

	link := &mocks.MockLink{}
	dropped := make(chan struct{})

	link.On("Peripheral").Return(p)
	link.On("Services", mock.Anything).Return(services, nil)
	link.On("Characteristics", mock.Anything, mock.Anything).Return(
		func(_ context.Context, svc device.Service) ([]device.Characteristic, error) {
			return chars[device.NormalizeUUID(svc.UUID())], nil
		})
	link.On("Read", mock.Anything, mock.Anything).Return(f.read)
	link.On("Write", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(f.write)
	if f.builder.teardown != nil {
		link.On("Disconnect").Return(f.builder.teardown)
	} else {
		link.On("Disconnect").Return(f.builder.disconnect)
	}
	if f.builder.noSupervise {
		link.On("Disconnected").Return(nil)
	} else {
		link.On("Disconnected").Return(dropped)
	}

	f.mu.Lock()
	f.links = append(f.links, link)
	f.drops = append(f.drops, dropped)
	f.mu.Unlock()
	return link, nil
}

func (f *FakePeripheral) read(ctx context.Context, c device.Characteristic) ([]byte, error) {
	id := device.NormalizeUUID(c.UUID())

	f.mu.Lock()
	n := f.readCalls[id]
	f.readCalls[id]++
	value := append([]byte(nil), f.values[id]...)
	f.mu.Unlock()

	if fn, ok := f.builder.reads[id]; ok {
		return fn(ctx, n)
	}
	if !c.Properties().CanRead() {
		return nil, fmt.Errorf("characteristic %s does not support read", c.UUID())
	}
	return value, nil
}

func (f *FakePeripheral) write(_ context.Context, c device.Characteristic, data []byte, confirmed bool) error {
	id := device.NormalizeUUID(c.UUID())
	if err, ok := f.builder.writeErrs[id]; ok {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, Write{Characteristic: id, Data: append([]byte(nil), data...), Confirmed: confirmed})
	f.values[id] = append([]byte(nil), data...)
	return nil
}

// Transport returns the mocked transport
func (f *FakePeripheral) Transport() *mocks.MockTransport {
	return f.transport
}

// Links returns every link dialed so far, oldest first
func (f *FakePeripheral) Links() []*mocks.MockLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*mocks.MockLink(nil), f.links...)
}

// LastLink returns the most recently dialed link, or nil
func (f *FakePeripheral) LastLink() *mocks.MockLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.links) == 0 {
		return nil
	}
	return f.links[len(f.links)-1]
}

// Drop simulates the transport losing the most recent link
func (f *FakePeripheral) Drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.drops) == 0 {
		return
	}
	last := f.drops[len(f.drops)-1]
	select {
	case <-last:
	default:
		close(last)
	}
}

// Writes returns the writes recorded so far
func (f *FakePeripheral) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Write(nil), f.writes...)
}

// Value returns the current value of a characteristic, including written data
func (f *FakePeripheral) Value(charUUID string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.values[device.NormalizeUUID(charUUID)]...)
}

// ReadCount returns how many reads hit a characteristic
func (f *FakePeripheral) ReadCount(charUUID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readCalls[device.NormalizeUUID(charUUID)]
}

// Service is a plain device.Service
type Service struct {
	ID string
}

func (s *Service) UUID() string { return device.NormalizeUUID(s.ID) }

// Characteristic is a plain device.Characteristic
type Characteristic struct {
	ID    string
	H     uint16
	Props device.Properties
}

func (c *Characteristic) UUID() string                  { return device.NormalizeUUID(c.ID) }
func (c *Characteristic) Handle() uint16                { return c.H }
func (c *Characteristic) Properties() device.Properties { return c.Props }

// ParseProperties converts "read,write,notify" into property bits; empty means read,write
func ParseProperties(props string) device.Properties {
	if strings.TrimSpace(props) == "" {
		return device.PropRead | device.PropWrite
	}

	var p device.Properties
	for _, part := range strings.Split(props, ",") {
		switch strings.TrimSpace(part) {
		case "broadcast":
			p |= device.PropBroadcast
		case "read":
			p |= device.PropRead
		case "write-without-response":
			p |= device.PropWriteWithoutResponse
		case "write":
			p |= device.PropWrite
		case "notify":
			p |= device.PropNotify
		case "indicate":
			p |= device.PropIndicate
		}
	}
	return p
}
