package main

import (
	"time"

	"github.com/pkg/errors"

	"github.com/airlinklabs/bthost/hci"
	"github.com/airlinklabs/bthost/hci/h4"
	"github.com/airlinklabs/bthost/host"
)

// openAdapter builds the adapter from the profile. Serial and TCP H4
// transports work everywhere; without one the platform default is used.
func openAdapter(cfg profile) (*host.Adapter, *host.Manager, error) {
	switch {
	case cfg.Serial != "":
		opts := h4.DefaultSerialOptions()
		opts.PortName = cfg.Serial
		if cfg.Baud != 0 {
			opts.BaudRate = cfg.Baud
		}
		stream, err := h4.NewSerial(opts)
		if err != nil {
			return nil, nil, err
		}
		return host.NewAdapter(cfg.Adapter, hci.NewHCI(stream)), nil, nil

	case cfg.TCP != "":
		stream, err := h4.NewSocket(cfg.TCP, 5*time.Second)
		if err != nil {
			return nil, nil, errors.Wrap(err, "h4 tcp")
		}
		return host.NewAdapter(cfg.Adapter, hci.NewHCI(stream)), nil, nil
	}
	return openPlatformAdapter(cfg)
}
