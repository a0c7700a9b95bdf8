package main

import (
	"context"
	"fmt"

	"github.com/kstaniek/go-tactile-server/internal/socketcan"
	"github.com/kstaniek/go-tactile-server/internal/transport"
)

// openSocketCANDevice is a hook for tests (overridden in unit tests).
var openSocketCANDevice = func(iface string, cfg *appConfig) (socketcan.Dev, error) {
	return socketcan.Open(iface, cfg.serialReadTO)
}

func socketCANOpener(cfg *appConfig) opener {
	filter := socketcan.Filter{RxID: uint32(cfg.canRxID), TxID: uint32(cfg.canTxID), Extended: cfg.canExtended}
	return func(context.Context) (transport.Transport, string, error) {
		dev, err := openSocketCANDevice(cfg.canIf, cfg)
		if err != nil {
			return nil, "", fmt.Errorf("socketcan open %s: %w", cfg.canIf, err)
		}
		return socketcan.NewStream(dev, filter), fmt.Sprintf("socketcan:%s/0x%X", cfg.canIf, cfg.canRxID), nil
	}
}
