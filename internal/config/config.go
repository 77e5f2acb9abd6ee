package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	defaultGatewayNode  = 1
	defaultNode         = 2
	defaultReplyTimeout = 10000
	defaultPollInterval = 1
	defaultBridgePrefix = "mqttsn/"
)

type Config struct {
	// Gateway URL is the websocket endpoint bridging the radio network,
	// in the form "ws://host:port/path". Node is the gateway's radio node ID.
	Gateway struct {
		URL  string `json:"url" yaml:"url"`
		Node uint8  `json:"node" yaml:"node"`
	} `json:"gateway" yaml:"gateway"`

	// Node is this client's own radio node ID. Default 2.
	Node uint8 `json:"node" yaml:"node"`

	// ClientID sent in CONNECT. Longer IDs are truncated.
	// If empty, a random one is generated.
	ClientID string `json:"client_id" yaml:"client_id"`

	// Reply timeout for CONNECT, REGISTER, SUBSCRIBE and DISCONNECT in ms.
	// Default 10s. Set to -1 to wait forever.
	ReplyTimeoutMs int64 `json:"reply_timeout_ms" yaml:"reply_timeout_ms"`

	// Poll interval in ms used while waiting for replies and when idle. Default 1ms.
	PollIntervalMs int64 `json:"poll_interval_ms" yaml:"poll_interval_ms"`

	// Subscribe lists topics to subscribe to after connecting.
	Subscribe []string `json:"subscribe" yaml:"subscribe"`

	// Publish optionally sends one message after connecting.
	Publish struct {
		Topic   string `json:"topic" yaml:"topic"`
		Message string `json:"message" yaml:"message"`
		Retain  bool   `json:"retain" yaml:"retain"`
	} `json:"publish" yaml:"publish"`

	// Journal Dir optionally specifies a directory in which received
	// messages are stored. If empty, nothing is stored.
	Journal struct {
		Dir string `json:"dir" yaml:"dir"`
	} `json:"journal" yaml:"journal"`

	// Bridge Broker optionally specifies an MQTT broker, in the form
	// "tcp://host:port", to which received messages are forwarded with
	// Prefix prepended to the topic.
	Bridge struct {
		Broker   string `json:"broker" yaml:"broker"`
		ClientID string `json:"client_id" yaml:"client_id"`
		Prefix   string `json:"prefix" yaml:"prefix"`
	} `json:"bridge" yaml:"bridge"`

	// Log configures optional log output file as well as the log level setting.
	Log struct {
		File  string `json:"file" yaml:"file"`
		Level string `json:"level" yaml:"level"`
	} `json:"log" yaml:"log"`
}

// LoadFromFile reads a JSON config, or YAML if the file ends in .yaml or .yml.
func (c *Config) LoadFromFile(fPath string) error {
	f, err := os.Open(fPath)
	if err != nil {
		return errors.Wrap(err, "error opening config file")
	}

	defer f.Close()

	switch strings.ToLower(filepath.Ext(fPath)) {
	case ".yaml", ".yml":
		err = yaml.NewDecoder(f).Decode(c)
	default:
		err = json.NewDecoder(f).Decode(c)
	}
	if err != nil {
		return errors.Wrap(err, "error reading config file")
	}

	return c.Validate()
}

// Validate checks the config and fills in defaults.
func (c *Config) Validate() error {
	if c.Gateway.URL == "" {
		return errors.New("gateway url not specified")
	}
	if !strings.HasPrefix(c.Gateway.URL, "ws://") && !strings.HasPrefix(c.Gateway.URL, "wss://") {
		return errors.Errorf("invalid gateway url %q", c.Gateway.URL)
	}

	if c.Gateway.Node == 0 {
		c.Gateway.Node = defaultGatewayNode
	}
	if c.Node == 0 {
		c.Node = defaultNode
	}
	if c.Node == c.Gateway.Node {
		return errors.Errorf("node ID %d used by gateway", c.Node)
	}

	if c.ClientID == "" {
		c.ClientID = "sn-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}

	if c.ReplyTimeoutMs == 0 {
		c.ReplyTimeoutMs = defaultReplyTimeout
	} else if c.ReplyTimeoutMs < -1 {
		return errors.Errorf("invalid reply timeout %d", c.ReplyTimeoutMs)
	}
	if c.PollIntervalMs <= 0 {
		c.PollIntervalMs = defaultPollInterval
	}

	if c.Publish.Message != "" && c.Publish.Topic == "" {
		return errors.New("publish message without topic")
	}

	if c.Bridge.Broker != "" {
		if c.Bridge.ClientID == "" {
			c.Bridge.ClientID = c.ClientID + "-bridge"
		}
		if c.Bridge.Prefix == "" {
			c.Bridge.Prefix = defaultBridgePrefix
		}
	}

	return nil
}

// ReplyTimeout is the reply timeout as a duration. Zero means forever.
func (c *Config) ReplyTimeout() time.Duration {
	if c.ReplyTimeoutMs < 0 {
		return 0
	}
	return time.Duration(c.ReplyTimeoutMs) * time.Millisecond
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// SetupLogging applies the log file and level settings to the standard logger.
func (c *Config) SetupLogging() error {
	if c.Log.File != "" {
		f, err := os.OpenFile(c.Log.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		log.SetOutput(f)
	}
	if c.Log.Level != "" {
		switch strings.ToLower(c.Log.Level) {
		case "error":
			log.SetLevel(log.ErrorLevel)
		case "warn":
			log.SetLevel(log.WarnLevel)
		case "info":
			log.SetLevel(log.InfoLevel)
		case "debug":
			log.SetLevel(log.DebugLevel)
		default:
			return errors.Errorf("unknown log level %q", c.Log.Level)
		}
	}
	return nil
}
