//go:build linux

package pylontech

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Receiver читает кадры с интерфейса SocketCAN
type Receiver struct {
	iface  string
	logger *zap.Logger
}

// NewReceiver создает приемник для интерфейса, например "can0"
func NewReceiver(iface string, logger *zap.Logger) *Receiver {
	return &Receiver{iface: iface, logger: logger.Named("socketcan")}
}

func (r *Receiver) open() (int, error) {
	ifi, err := net.InterfaceByName(r.iface)
	if err != nil {
		return -1, fmt.Errorf("can interface %s: %w", r.iface, err)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return -1, fmt.Errorf("can socket: %w", err)
	}
	// Таймаут чтения нужен, чтобы заметить отмену контекста
	tv := unix.NsecToTimeval((500 * time.Millisecond).Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("can socket timeout: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind %s: %w", r.iface, err)
	}
	return fd, nil
}

// Run читает кадры и передает их в handler до отмены ctx
func (r *Receiver) Run(ctx context.Context, handler func(Frame)) error {
	fd, err := r.open()
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	r.logger.Info("CAN receiver started", zap.String("interface", r.iface))
	buf := make([]byte, rawFrameSize)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("CAN receiver stopped")
			return nil
		default:
		}

		n, err := unix.Read(fd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("read %s: %w", r.iface, err)
		}

		frame, ok, err := parseRawFrame(buf[:n])
		if err != nil {
			r.logger.Debug("Malformed CAN frame", zap.Error(err))
			continue
		}
		if ok {
			handler(frame)
		}
	}
}
