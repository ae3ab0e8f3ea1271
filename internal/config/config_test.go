package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/KevinKickass/OpenHarnessCore/internal/protocol"
	"github.com/KevinKickass/OpenHarnessCore/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 200*time.Millisecond, cfg.Session.AckTimeout)
	assert.Equal(t, 300*time.Millisecond, cfg.Session.VoltageResultTimeout)
	assert.Equal(t, 2*time.Second, cfg.Session.BoardsResultTimeout)
	assert.Equal(t, 10*time.Second, cfg.Director.SettlePeriod)
	assert.Equal(t, 20.0, cfg.Measurement.AbsThreshold)
	assert.Equal(t, 0.2, cfg.Measurement.PctThreshold)
	assert.Equal(t, "\n", cfg.Transport.KeepAlivePayload)
	assert.Equal(t, uint32(transport.DefaultMaxFrameSize), cfg.TransportOptions().MaxFrameSize)
	assert.False(t, cfg.Database.Enabled)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
director:
  settle_period: 3s
  voltage_level: 1
links:
  tcp: ["10.0.0.5:7000"]
  serial:
    - port: /dev/rfcomm1
      baud_rate: 9600
measurement:
  abs_threshold: 5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	dc := cfg.DirectorConfig()
	assert.Equal(t, 3*time.Second, dc.SettlePeriod)
	assert.Equal(t, protocol.VoltageHigh, dc.VoltageLevel)
	assert.Equal(t, 200*time.Millisecond, dc.Session.AckTimeout)

	assert.Equal(t, []string{"10.0.0.5:7000"}, cfg.Links.TCP)
	assert.Equal(t, []transport.SerialConfig{{Port: "/dev/rfcomm1", BaudRate: 9600}}, cfg.Links.Serial)
	assert.Equal(t, 5.0, cfg.BoardsConfig().Thresholds.Abs)
	assert.Equal(t, 1000.0, cfg.BoardsConfig().ListThreshold)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("HARNESS_SESSION_ACK_TIMEOUT", "350ms")
	t.Setenv("HARNESS_SERVER_HTTP_PORT", "9090")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 350*time.Millisecond, cfg.Session.AckTimeout)
	assert.Equal(t, 9090, cfg.Server.HTTPPort)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, "director:\n  voltage_level: 3\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "links:\n  serial:\n    - baud_rate: 9600\n"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: 5432, Database: "harness", User: "u", Password: "p"}
	assert.Equal(t, "postgres://u:p@db:5432/harness?sslmode=disable", db.DSN())
}
