//go:build !linux

package main

import (
	"github.com/pkg/errors"

	"github.com/airlinklabs/bthost/host"
)

func openPlatformAdapter(cfg profile) (*host.Adapter, *host.Manager, error) {
	return nil, nil, errors.New("no management transport on this platform; use --serial or --tcp")
}
