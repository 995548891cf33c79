// Package scanner discovers nearby irons by their BLE advertisements.
package scanner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/pinelink/internal/device"
	"github.com/srg/pinelink/internal/ringchan"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

type DeviceEvent struct {
	Type   DeviceEventType
	Device Discovered
}

// Discovered is a snapshot of one advertising peripheral
type Discovered struct {
	Peripheral  device.Peripheral
	RSSI        int
	Connectable bool
	Services    []string
	LastSeen    time.Time
}

// Advertises reports whether the peripheral listed uuid in its advertisement
func (d Discovered) Advertises(uuid string) bool {
	for _, s := range d.Services {
		if device.EqualUUID(s, uuid) {
			return true
		}
	}
	return false
}

// entry is the mutable record kept per address during a scan
type entry struct {
	mu sync.Mutex
	d  Discovered
}

func (e *entry) snapshot() Discovered {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := e.d
	d.Services = append([]string(nil), e.d.Services...)
	return d
}

func (e *entry) update(adv device.Advertisement) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if name := adv.LocalName(); name != "" {
		e.d.Peripheral.Name = name
	}
	e.d.RSSI = adv.RSSI()
	e.d.Connectable = adv.Connectable()
	if svcs := adv.Services(); len(svcs) > 0 {
		e.d.Services = svcs
	}
	e.d.LastSeen = time.Now()
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool
	ServiceUUIDs    []string
	NamePrefix      string
	AllowList       []string
	BlockList       []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		DuplicateFilter: true,
	}
}

// Scanner handles BLE device discovery
type Scanner struct {
	transport device.Transport
	devices   *hashmap.Map[string, *entry]
	events    *ringchan.RingChannel[DeviceEvent]
	logger    *logrus.Logger

	scanOptions *ScanOptions
}

// NewScanner creates a new BLE scanner
func NewScanner(transport device.Transport, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}

	return &Scanner{
		transport: transport,
		events:    ringchan.New[DeviceEvent](100),
		logger:    logger,
	}
}

// Scan performs BLE discovery for opts.Duration or until ctx is done.
// Results are sorted by signal strength, strongest first.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) ([]Discovered, error) {
	s.devices = hashmap.New[string, *entry]()

	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}
	filtered := *opts
	if len(opts.ServiceUUIDs) > 0 {
		ids, err := device.ValidateUUID(opts.ServiceUUIDs...)
		if err != nil {
			return nil, fmt.Errorf("invalid service filter: %w", err)
		}
		filtered.ServiceUUIDs = ids
	}
	s.scanOptions = &filtered
	defer func() {
		s.scanOptions = nil
	}()

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")
	progressCallback("Scanning")

	scanCtx := ctx
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	if err := s.transport.Scan(scanCtx, !opts.DuplicateFilter, s.handleAdvertisement); err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")
	progressCallback("Processing results")

	return s.makeDeviceList(), nil
}

// handleAdvertisement updates existing or adds a new device
func (s *Scanner) handleAdvertisement(adv device.Advertisement) {
	addr := adv.Addr()

	e, existing := s.devices.Get(addr)
	if !existing {
		if !s.shouldIncludeDevice(adv, s.scanOptions) {
			return
		}
		e, existing = s.devices.GetOrInsert(addr, &entry{d: Discovered{Peripheral: device.Peripheral{Address: addr}}})
	}
	e.update(adv)

	event := DeviceEvent{Device: e.snapshot()}
	if existing {
		event.Type = EventUpdated
	} else {
		s.logger.WithFields(logrus.Fields{
			"device":  event.Device.Peripheral.DisplayName(),
			"address": addr,
			"rssi":    event.Device.RSSI,
		}).Info("Discovered new device")
		event.Type = EventNew
	}

	s.events.Send(event)
}

// shouldIncludeDevice applies allow/block/name/service filters
func (s *Scanner) shouldIncludeDevice(adv device.Advertisement, opts *ScanOptions) bool {
	addr := adv.Addr()

	for _, blocked := range opts.BlockList {
		if strings.EqualFold(addr, blocked) {
			return false
		}
	}

	if len(opts.AllowList) > 0 {
		allowed := false
		for _, a := range opts.AllowList {
			if strings.EqualFold(addr, a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if opts.NamePrefix != "" && !strings.HasPrefix(strings.ToLower(adv.LocalName()), strings.ToLower(opts.NamePrefix)) {
		return false
	}

	if len(opts.ServiceUUIDs) > 0 {
		for _, required := range opts.ServiceUUIDs {
			for _, advUUID := range adv.Services() {
				if device.EqualUUID(required, advUUID) {
					return true
				}
			}
		}
		return false
	}

	return true
}

func (s *Scanner) makeDeviceList() []Discovered {
	devs := make([]Discovered, 0, s.devices.Len())

	s.devices.Range(func(_ string, value *entry) bool {
		devs = append(devs, value.snapshot())
		return true
	})

	sort.Slice(devs, func(i, j int) bool {
		if devs[i].RSSI != devs[j].RSSI {
			return devs[i].RSSI > devs[j].RSSI
		}
		return devs[i].Peripheral.Address < devs[j].Peripheral.Address
	})
	return devs
}

// Events return a read-only channel of device events
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events.C()
}
