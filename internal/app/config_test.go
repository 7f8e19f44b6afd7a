package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ylink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
ports:
  - link: veth0
    addr: 10.0.0.1
  - link: veth1
    addr: 172.16.0.1
routes:
  - prefix: 10.0.0.0/24
    port: 0
  - prefix: 0.0.0.0/0
    nexthop: 172.16.0.254
    port: 1
`))
	require.NoError(t, err)

	require.Len(t, cfg.Ports, 2)
	require.Equal(t, "veth0", cfg.Ports[0].Link)
	require.Equal(t, "10.0.0.1", cfg.Ports[0].Addr)

	require.Len(t, cfg.Routes, 2)
	require.Empty(t, cfg.Routes[0].NextHop)
	require.Equal(t, "172.16.0.254", cfg.Routes[1].NextHop)

	// Unset knobs keep their defaults.
	require.Equal(t, DefaultConfig().TickInterval, cfg.TickInterval)
	require.Equal(t, DefaultConfig().RecvBufferSize, cfg.RecvBufferSize)
}

func TestLoadConfigRejectsEmptyPorts(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `routes: []`))
	require.Error(t, err)
}

func TestNewRejectsDanglingRoutePort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ports = []PortConfig{{Link: "veth0", Addr: "10.0.0.1"}}
	cfg.Routes = []RouteConfig{{Prefix: "0.0.0.0/0", Port: 7}}

	_, err := New(cfg, nil)
	require.Error(t, err)
}
