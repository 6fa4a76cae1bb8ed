//go:build linux

package main

import (
	"github.com/airlinklabs/bthost/host"
)

func openPlatformAdapter(cfg profile) (*host.Adapter, *host.Manager, error) {
	enum, err := host.NewMgmtEnumerator()
	if err != nil {
		return nil, nil, err
	}
	m, err := host.NewManager(enum)
	if err != nil {
		enum.Close()
		return nil, nil, err
	}
	a, err := m.Adapter(cfg.Adapter)
	if err != nil {
		m.Close()
		return nil, nil, err
	}
	return a, m, nil
}
