// Package devicefactory selects the device.Transport used by the CLI.
package devicefactory

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/pinelink/internal/device"
	goble "github.com/srg/pinelink/internal/device/go-ble"
	"github.com/srg/pinelink/pkg/config"
)

// TransportFactory creates the transport for a run.
// This is a variable so that it can be overridden in tests.
var TransportFactory = func(cfg *config.Config, logger *logrus.Logger) device.Transport {
	return goble.NewTransport(logger, goble.Options{
		ConnectTimeout:   cfg.ConnectTimeout,
		OperationTimeout: cfg.OperationTimeout,
	})
}

// NewTransport returns the transport configured for cfg
func NewTransport(cfg *config.Config, logger *logrus.Logger) device.Transport {
	return TransportFactory(cfg, logger)
}
