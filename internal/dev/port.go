package dev

import (
	"context"
	"fmt"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/cenkalti/backoff/v5"
	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/yanet-platform/ylink/internal/link"
)

// Option is a function that configures a port.
type Option func(*options)

// WithLog configures the port with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithRecvBufferSize configures the socket receive-buffer size.
func WithRecvBufferSize(size datasize.ByteSize) Option {
	return func(o *options) {
		o.RecvBufferSize = size
	}
}

type options struct {
	Log            *zap.SugaredLogger
	RecvBufferSize datasize.ByteSize
}

func newOptions() *options {
	return &options{
		Log:            zap.NewNop().Sugar(),
		RecvBufferSize: 4 * datasize.MB,
	}
}

// Port is a packet socket bound to a host network link, transmitting and
// receiving raw Ethernet frames.
type Port struct {
	name   string
	index  int
	hwaddr link.Addr
	fd     int
	log    *zap.SugaredLogger
}

// Open binds a packet socket to the named host link.
//
// The link's index and hardware address are discovered via netlink. Reads
// use a short socket timeout so a reader loop can observe cancellation.
func Open(name string, opts ...Option) (*Port, error) {
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}

	lnk, err := netlink.LinkByName(name)
	if err != nil {
		return nil, fmt.Errorf("failed to find link %q: %w", name, err)
	}

	attrs := lnk.Attrs()
	hwaddr, ok := link.AddrFromSlice(attrs.HardwareAddr)
	if !ok {
		return nil, fmt.Errorf("unsupported hardware address %q on link %q: must be EUI-48", attrs.HardwareAddr, name)
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create packet socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, int(o.RecvBufferSize.Bytes())); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to set receive buffer size: %w", err)
	}

	timeout := unix.NsecToTimeval(int64(time.Second))
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &timeout); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to set receive timeout: %w", err)
	}

	sll := unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  attrs.Index,
	}
	if err := unix.Bind(fd, &sll); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to bind packet socket to %q: %w", name, err)
	}

	o.Log.Infow("opened port",
		zap.String("link", name),
		zap.Int("index", attrs.Index),
		zap.Stringer("hwaddr", hwaddr),
	)

	return &Port{
		name:   name,
		index:  attrs.Index,
		hwaddr: hwaddr,
		fd:     fd,
		log:    o.Log.With(zap.String("link", name)),
	}, nil
}

// OpenRetry opens the named link, retrying with exponential backoff until
// it succeeds or the context is canceled. This covers links that appear
// after the process starts, e.g. virtual devices created by a peer.
func OpenRetry(ctx context.Context, name string, opts ...Option) (*Port, error) {
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     backoff.DefaultInitialInterval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         10 * time.Second,
	}

	return backoff.Retry(ctx, func() (*Port, error) {
		return Open(name, opts...)
	}, backoff.WithBackOff(bo))
}

// Name returns the host link name.
func (m *Port) Name() string {
	return m.name
}

// HWAddr returns the link's hardware address.
func (m *Port) HWAddr() link.Addr {
	return m.hwaddr
}

// ErrTimeout is returned by Recv when no frame arrived within the socket
// timeout; the caller should check for cancellation and retry.
var ErrTimeout = fmt.Errorf("receive timed out")

// Recv reads the next inbound frame into buf and returns its length.
//
// Locally originated frames looped back by the kernel are skipped.
func (m *Port) Recv(buf []byte) (int, error) {
	for {
		n, from, err := unix.Recvfrom(m.fd, buf, 0)
		switch err {
		case nil:
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, ErrTimeout
		default:
			return 0, fmt.Errorf("failed to receive on %q: %w", m.name, err)
		}

		if sll, ok := from.(*unix.SockaddrLinklayer); ok && sll.Pkttype == unix.PACKET_OUTGOING {
			continue
		}

		return n, nil
	}
}

// Send transmits a raw frame on the link.
func (m *Port) Send(data []byte) error {
	sll := unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  m.index,
	}
	if err := unix.Sendto(m.fd, data, 0, &sll); err != nil {
		return fmt.Errorf("failed to transmit on %q: %w", m.name, err)
	}

	return nil
}

// Close releases the socket.
func (m *Port) Close() error {
	return unix.Close(m.fd)
}

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}
