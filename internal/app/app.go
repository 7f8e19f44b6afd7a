package app

import (
	"context"
	"fmt"
	"net/netip"

	"go.uber.org/zap"

	"github.com/yanet-platform/ylink/internal/dev"
	"github.com/yanet-platform/ylink/internal/iface"
	"github.com/yanet-platform/ylink/internal/router"
)

// App assembles a running router from the configuration: one packet-socket
// port and one link interface per configured host device, plus the static
// forwarding table.
type App struct {
	cfg *Config
	log *zap.SugaredLogger
}

// New creates an App from a validated configuration.
func New(cfg *Config, log *zap.SugaredLogger) (*App, error) {
	for idx, route := range cfg.Routes {
		if route.Port < 0 || route.Port >= len(cfg.Ports) {
			return nil, fmt.Errorf("route %d refers to unknown port %d", idx, route.Port)
		}
	}

	return &App{
		cfg: cfg,
		log: log,
	}, nil
}

// Run builds the dataplane and pumps it until the context is canceled.
func (m *App) Run(ctx context.Context) error {
	rtr := router.New(router.WithLog(m.log))

	ports := make([]*dev.Port, 0, len(m.cfg.Ports))
	defer func() {
		for _, port := range ports {
			if err := port.Close(); err != nil {
				m.log.Warnw("failed to close port", zap.String("link", port.Name()), zap.Error(err))
			}
		}
	}()

	for _, pc := range m.cfg.Ports {
		addr, err := netip.ParseAddr(pc.Addr)
		if err != nil {
			return fmt.Errorf("failed to parse address for link %q: %w", pc.Link, err)
		}
		if !addr.Is4() {
			return fmt.Errorf("unsupported address %q for link %q: must be IPv4", addr, pc.Link)
		}

		port, err := dev.OpenRetry(ctx, pc.Link,
			dev.WithLog(m.log),
			dev.WithRecvBufferSize(m.cfg.RecvBufferSize),
		)
		if err != nil {
			return fmt.Errorf("failed to open port %q: %w", pc.Link, err)
		}
		ports = append(ports, port)

		rtr.AddIface(iface.NewAsync(iface.New(port.HWAddr(), addr, iface.WithLog(m.log))))
	}

	for _, rc := range m.cfg.Routes {
		prefix, err := netip.ParsePrefix(rc.Prefix)
		if err != nil {
			return fmt.Errorf("failed to parse route prefix %q: %w", rc.Prefix, err)
		}

		var nexthop netip.Addr
		if rc.NextHop != "" {
			if nexthop, err = netip.ParseAddr(rc.NextHop); err != nil {
				return fmt.Errorf("failed to parse next hop %q: %w", rc.NextHop, err)
			}
		}

		if err := rtr.AddRoute(prefix, nexthop, rc.Port); err != nil {
			return fmt.Errorf("failed to add route %q: %w", rc.Prefix, err)
		}
	}

	driver := dev.NewDriver(rtr, ports,
		dev.WithDriverLog(m.log),
		dev.WithTickInterval(m.cfg.TickInterval),
		dev.WithStatsInterval(m.cfg.StatsInterval),
	)

	return driver.Run(ctx)
}
