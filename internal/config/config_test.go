package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestLoadJSON(t *testing.T) {
	p := writeFile(t, "config.json", `{
	"gateway": {"url": "ws://localhost:8080/radio", "node": 5},
	"node": 9,
	"client_id": "greenhouse",
	"reply_timeout_ms": -1,
	"subscribe": ["cmd/+", "time"],
	"publish": {"topic": "status", "message": "up", "retain": true},
	"bridge": {"broker": "tcp://localhost:1883"}
}`)

	var c Config
	require.NoError(t, c.LoadFromFile(p))

	assert.Equal(t, "ws://localhost:8080/radio", c.Gateway.URL)
	assert.EqualValues(t, 5, c.Gateway.Node)
	assert.EqualValues(t, 9, c.Node)
	assert.Equal(t, "greenhouse", c.ClientID)
	assert.Equal(t, time.Duration(0), c.ReplyTimeout())
	assert.Equal(t, time.Millisecond, c.PollInterval())
	assert.Equal(t, []string{"cmd/+", "time"}, c.Subscribe)
	assert.True(t, c.Publish.Retain)
	assert.Equal(t, "greenhouse-bridge", c.Bridge.ClientID)
	assert.Equal(t, defaultBridgePrefix, c.Bridge.Prefix)
}

func TestLoadYAML(t *testing.T) {
	p := writeFile(t, "config.yaml", `
gateway:
  url: wss://gw.local/sn
node: 3
reply_timeout_ms: 2500
poll_interval_ms: 5
journal:
  dir: /var/lib/mqttsnc
log:
  level: debug
`)

	var c Config
	require.NoError(t, c.LoadFromFile(p))

	assert.EqualValues(t, defaultGatewayNode, c.Gateway.Node)
	assert.EqualValues(t, 3, c.Node)
	assert.Equal(t, 2500*time.Millisecond, c.ReplyTimeout())
	assert.Equal(t, 5*time.Millisecond, c.PollInterval())
	assert.Equal(t, "/var/lib/mqttsnc", c.Journal.Dir)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Empty(t, c.Bridge.ClientID)
}

func TestDefaults(t *testing.T) {
	c := Config{}
	c.Gateway.URL = "ws://gw"
	require.NoError(t, c.Validate())

	assert.EqualValues(t, defaultGatewayNode, c.Gateway.Node)
	assert.EqualValues(t, defaultNode, c.Node)
	assert.Equal(t, 10*time.Second, c.ReplyTimeout())
	assert.True(t, strings.HasPrefix(c.ClientID, "sn-"))
	assert.Len(t, c.ClientID, 15)

	other := Config{}
	other.Gateway.URL = "ws://gw"
	require.NoError(t, other.Validate())
	assert.NotEqual(t, c.ClientID, other.ClientID)
}

func TestValidateErrors(t *testing.T) {
	cases := map[string]func(c *Config){
		"no url":      func(c *Config) { c.Gateway.URL = "" },
		"bad scheme":  func(c *Config) { c.Gateway.URL = "http://gw" },
		"same node":   func(c *Config) { c.Node = defaultGatewayNode },
		"bad timeout": func(c *Config) { c.ReplyTimeoutMs = -2 },
		"no topic":    func(c *Config) { c.Publish.Message = "hi" },
	}

	for name, mod := range cases {
		t.Run(name, func(t *testing.T) {
			c := Config{}
			c.Gateway.URL = "ws://gw"
			mod(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLoadErrors(t *testing.T) {
	var c Config
	assert.Error(t, c.LoadFromFile(filepath.Join(t.TempDir(), "missing.json")))
	assert.Error(t, c.LoadFromFile(writeFile(t, "bad.json", "{")))
	assert.Error(t, c.LoadFromFile(writeFile(t, "bad.yml", "gateway: [")))
}

func TestSetupLogging(t *testing.T) {
	defer log.SetOutput(os.Stderr)
	defer log.SetLevel(log.GetLevel())

	c := Config{}
	c.Log.File = filepath.Join(t.TempDir(), "mqttsnc.log")
	c.Log.Level = "WARN"
	require.NoError(t, c.SetupLogging())
	assert.Equal(t, log.WarnLevel, log.GetLevel())

	log.Warn("written")
	b, err := os.ReadFile(c.Log.File)
	require.NoError(t, err)
	assert.Contains(t, string(b), "written")

	c.Log.File = ""
	c.Log.Level = "loud"
	assert.Error(t, c.SetupLogging())
}
