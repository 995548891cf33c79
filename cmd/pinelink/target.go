package main

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/pinelink/internal/device"
	"github.com/srg/pinelink/internal/groutine"
	"github.com/srg/pinelink/pkg/config"
	"github.com/srg/pinelink/scanner"
)

// ironNamePrefix is how IronOS names its BLE peripheral
const ironNamePrefix = "Pinecil"

// macAddress matches Linux-style addresses; macOS reports peripheral UUIDs instead
var (
	macAddress   = regexp.MustCompile(`^(?i)[0-9a-f]{2}(:[0-9a-f]{2}){5}$`)
	darwinPeerID = regexp.MustCompile(`^(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

func isAddress(s string) bool {
	return macAddress.MatchString(s) || darwinPeerID.MatchString(s)
}

// isIron reports whether an advertiser looks like an IronOS iron
func isIron(d scanner.Discovered, cfg *config.Config) bool {
	return d.Advertises(cfg.TelemetryService) ||
		strings.HasPrefix(strings.ToLower(d.Peripheral.Name), strings.ToLower(ironNamePrefix))
}

// resolveTarget turns the positional argument into a peripheral.
// An address is used as is; a name (or nothing) triggers a scan for the strongest matching iron.
func resolveTarget(ctx context.Context, transport device.Transport, arg string, cfg *config.Config, logger *logrus.Logger) (device.Peripheral, error) {
	arg = strings.TrimSpace(arg)
	if isAddress(arg) {
		return device.Peripheral{Address: arg}, nil
	}

	logger.WithFields(logrus.Fields{
		"name":    arg,
		"timeout": cfg.ScanTimeout,
	}).Info("Scanning for iron...")

	s := scanner.NewScanner(transport, logger)

	// A named iron ends the scan as soon as it shows up; without a name the
	// whole window is needed to pick the strongest one
	scanCtx, stopScan := context.WithCancel(ctx)
	defer stopScan()
	var early atomic.Pointer[device.Peripheral]
	watched := groutine.Go(scanCtx, "target-scan", func(wctx context.Context) {
		if arg == "" {
			return
		}
		watchDiscoveries(wctx, s, func(ev scanner.DeviceEvent) {
			d := ev.Device
			if d.Connectable && isIron(d, cfg) && strings.EqualFold(d.Peripheral.Name, arg) {
				p := d.Peripheral
				early.CompareAndSwap(nil, &p)
				stopScan()
			}
		})
	})

	found, err := s.Scan(scanCtx, &scanner.ScanOptions{Duration: cfg.ScanTimeout, DuplicateFilter: true}, nil)
	stopScan()
	<-watched
	if p := early.Load(); p != nil {
		logger.WithField("address", p.Address).Info("Found iron")
		return *p, nil
	}
	if err != nil {
		return device.Peripheral{}, err
	}

	for _, d := range found {
		if !d.Connectable || !isIron(d, cfg) {
			continue
		}
		if arg == "" || strings.EqualFold(d.Peripheral.Name, arg) {
			return d.Peripheral, nil
		}
	}

	if arg == "" {
		return device.Peripheral{}, ErrNoDevice
	}
	return device.Peripheral{}, fmt.Errorf("%w: %q", ErrNoDevice, arg)
}
