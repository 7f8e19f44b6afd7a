package dev

import (
	"bytes"
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yanet-platform/ylink/internal/link"
	"github.com/yanet-platform/ylink/internal/router"
)

// DriverOption is a function that configures the driver.
type DriverOption func(*driverOptions)

// WithDriverLog configures the driver with a logger.
func WithDriverLog(log *zap.SugaredLogger) DriverOption {
	return func(o *driverOptions) {
		o.Log = log
	}
}

// WithTickInterval configures how often the resolution caches observe time.
func WithTickInterval(interval time.Duration) DriverOption {
	return func(o *driverOptions) {
		o.TickInterval = interval
	}
}

// WithStatsInterval configures how often forwarding stats are reported.
func WithStatsInterval(interval time.Duration) DriverOption {
	return func(o *driverOptions) {
		o.StatsInterval = interval
	}
}

type driverOptions struct {
	Log           *zap.SugaredLogger
	TickInterval  time.Duration
	StatsInterval time.Duration
}

func newDriverOptions() *driverOptions {
	return &driverOptions{
		Log:           zap.NewNop().Sugar(),
		TickInterval:  100 * time.Millisecond,
		StatsInterval: 30 * time.Second,
	}
}

type rxFrame struct {
	port int
	data []byte
}

// Driver pumps frames between packet-socket ports and the router core.
//
// Port i feeds the router's interface i. All router and interface state is
// owned by the single run-loop goroutine; per-port readers only move raw
// frame bytes into its channel, so the core needs no locking.
type Driver struct {
	router        *router.Router
	ports         []*Port
	tickInterval  time.Duration
	statsInterval time.Duration
	log           *zap.SugaredLogger
}

// NewDriver creates a driver binding ports to the router's interfaces, in
// index order.
func NewDriver(rtr *router.Router, ports []*Port, opts ...DriverOption) *Driver {
	o := newDriverOptions()
	for _, opt := range opts {
		opt(o)
	}

	return &Driver{
		router:        rtr,
		ports:         ports,
		tickInterval:  o.TickInterval,
		statsInterval: o.StatsInterval,
		log:           o.Log,
	}
}

// Run pumps frames until the specified context is canceled.
func (m *Driver) Run(ctx context.Context) error {
	m.log.Debugf("starting dataplane driver")
	defer m.log.Debugf("stopped dataplane driver")

	frames := make(chan rxFrame, 256)

	wg, ctx := errgroup.WithContext(ctx)
	for idx, port := range m.ports {
		wg.Go(func() error {
			return m.runReader(ctx, idx, port, frames)
		})
	}
	wg.Go(func() error {
		return m.runLoop(ctx, frames)
	})

	return wg.Wait()
}

func (m *Driver) runReader(ctx context.Context, idx int, port *Port, frames chan<- rxFrame) error {
	buf := make([]byte, 65536)

	for {
		n, err := port.Recv(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrTimeout) {
				continue
			}
			return err
		}

		select {
		case frames <- rxFrame{port: idx, data: bytes.Clone(buf[:n])}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Driver) runLoop(ctx context.Context, frames <-chan rxFrame) error {
	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()
	statsTicker := time.NewTicker(m.statsInterval)
	defer statsTicker.Stop()

	lastTick := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rx := <-frames:
			frame, err := link.ParseFrame(rx.data)
			if err != nil {
				m.log.Debugw("dropping malformed frame", zap.Int("port", rx.port), zap.Error(err))
				continue
			}

			m.router.Iface(rx.port).Recv(frame)
			m.router.RouteOnce()
			m.flush()
		case now := <-ticker.C:
			elapsed := now.Sub(lastTick)
			lastTick = now

			for idx := 0; idx < m.router.NumIfaces(); idx++ {
				m.router.Iface(idx).Tick(elapsed)
			}
			m.router.RouteOnce()
			m.flush()
		case <-statsTicker.C:
			m.router.LogStats()
		}
	}
}

// flush transmits every queued outbound frame, oldest first per port.
func (m *Driver) flush() {
	for idx, port := range m.ports {
		ifi := m.router.Iface(idx)
		for {
			frame, ok := ifi.PollFrame()
			if !ok {
				break
			}

			data, err := frame.Encode()
			if err != nil {
				m.log.Errorw("failed to serialize frame", zap.Error(err))
				continue
			}
			if err := port.Send(data); err != nil {
				m.log.Warnw("failed to transmit frame", zap.Error(err))
			}
		}
	}
}
