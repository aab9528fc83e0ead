//go:build !linux

package pylontech

import (
	"context"

	"go.uber.org/zap"
)

// Receiver заглушка для платформ без SocketCAN
type Receiver struct {
	iface  string
	logger *zap.Logger
}

func NewReceiver(iface string, logger *zap.Logger) *Receiver {
	return &Receiver{iface: iface, logger: logger}
}

func (r *Receiver) Run(ctx context.Context, handler func(Frame)) error {
	return ErrUnsupported
}
