package mqttclient

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the YAML form of the client options.
//
//	servers: [tcp://localhost:1883]
//	client_id: sensor-1
//	protocol_version: 5
//	keep_alive: 30
//	reconnect:
//	  enabled: true
//	  initial_backoff: 1s
//	  max_backoff: 30s
type Config struct {
	Servers         []string          `yaml:"servers"`
	ClientID        string            `yaml:"client_id"`
	Username        string            `yaml:"username"`
	Password        string            `yaml:"password"`
	ProtocolVersion int               `yaml:"protocol_version"`
	KeepAlive       *uint16           `yaml:"keep_alive"`
	CleanStart      *bool             `yaml:"clean_start"`
	SessionExpiry   uint32            `yaml:"session_expiry"`
	ReceiveMaximum  uint16            `yaml:"receive_maximum"`
	MaxPacketSize   uint32            `yaml:"max_packet_size"`
	TopicAliasMax   uint16            `yaml:"topic_alias_maximum"`
	UserProperties  map[string]string `yaml:"user_properties"`
	ConnectTimeout  string            `yaml:"connect_timeout"`
	WriteTimeout    string            `yaml:"write_timeout"`
	PingMargin      string            `yaml:"ping_margin"`
	ManualAck       bool              `yaml:"manual_ack"`
	MaxInflight     int               `yaml:"max_inflight"`
	Proxy           string            `yaml:"proxy"`

	Will      *WillConfig     `yaml:"will"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// WillConfig is the YAML form of the Will message.
type WillConfig struct {
	Topic   string `yaml:"topic"`
	Payload string `yaml:"payload"`
	QoS     byte   `yaml:"qos"`
	Retain  bool   `yaml:"retain"`
}

// ReconnectConfig holds the automatic reconnect settings.
type ReconnectConfig struct {
	Enabled        bool   `yaml:"enabled"`
	MaxAttempts    *int   `yaml:"max_attempts"`
	InitialBackoff string `yaml:"initial_backoff"`
	MaxBackoff     string `yaml:"max_backoff"`
}

// Environment variables that override the credentials of a loaded Config.
const (
	EnvUsername = "MQTTC_USERNAME"
	EnvPassword = "MQTTC_PASSWORD"
)

// LoadConfig reads a YAML config file. MQTTC_USERNAME and MQTTC_PASSWORD
// override the file's credentials.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv(EnvUsername); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv(EnvPassword); v != "" {
		cfg.Password = v
	}
	return cfg, nil
}

// ParseConfig decodes a YAML document and validates it.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that Options cannot represent.
func (c *Config) Validate() error {
	var errs []error
	switch c.ProtocolVersion {
	case 0, int(ProtocolV311), int(ProtocolV5):
	default:
		errs = append(errs, fmt.Errorf("protocol_version: %d is not 4 or 5", c.ProtocolVersion))
	}
	if c.Will != nil {
		if err := ValidateTopicName(c.Will.Topic); err != nil {
			errs = append(errs, fmt.Errorf("will.topic: %w", err))
		}
		if c.Will.QoS > QoS2 {
			errs = append(errs, fmt.Errorf("will.qos: %w", ErrInvalidQoS))
		}
	}
	for name, s := range map[string]string{
		"connect_timeout":           c.ConnectTimeout,
		"write_timeout":             c.WriteTimeout,
		"ping_margin":               c.PingMargin,
		"reconnect.initial_backoff": c.Reconnect.InitialBackoff,
		"reconnect.max_backoff":     c.Reconnect.MaxBackoff,
	} {
		if _, err := parseDuration(s); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// Options converts the config into client options. Unset fields keep the
// client defaults.
func (c *Config) Options() []Option {
	opts := []Option{WithServers(c.Servers...)}

	if c.ClientID != "" {
		opts = append(opts, WithClientID(c.ClientID))
	}
	if c.Username != "" || c.Password != "" {
		opts = append(opts, WithCredentials(c.Username, c.Password))
	}
	if c.ProtocolVersion != 0 {
		opts = append(opts, WithProtocolVersion(ProtocolVersion(c.ProtocolVersion)))
	}
	if c.KeepAlive != nil {
		opts = append(opts, WithKeepAlive(*c.KeepAlive))
	}
	if c.CleanStart != nil {
		opts = append(opts, WithCleanStart(*c.CleanStart))
	}
	if c.SessionExpiry != 0 {
		opts = append(opts, WithSessionExpiryInterval(c.SessionExpiry))
	}
	if c.ReceiveMaximum != 0 {
		opts = append(opts, WithReceiveMaximum(c.ReceiveMaximum))
	}
	if c.MaxPacketSize != 0 {
		opts = append(opts, WithMaxPacketSize(c.MaxPacketSize))
	}
	if c.TopicAliasMax != 0 {
		opts = append(opts, WithTopicAliasMaximum(c.TopicAliasMax))
	}
	if len(c.UserProperties) > 0 {
		opts = append(opts, WithUserProperties(c.UserProperties))
	}
	if d, _ := parseDuration(c.ConnectTimeout); d > 0 {
		opts = append(opts, WithConnectTimeout(d))
	}
	if d, _ := parseDuration(c.WriteTimeout); d > 0 {
		opts = append(opts, WithWriteTimeout(d))
	}
	if d, _ := parseDuration(c.PingMargin); d > 0 {
		opts = append(opts, WithPingSafetyMargin(d))
	}
	if c.ManualAck {
		opts = append(opts, WithManualAck(true))
	}
	if c.MaxInflight > 0 {
		opts = append(opts, WithMaxInflight(c.MaxInflight))
	}
	if c.Proxy != "" {
		opts = append(opts, WithProxy(c.Proxy))
	}
	if c.Will != nil {
		opts = append(opts, WithWill(c.Will.Topic, []byte(c.Will.Payload), c.Will.Retain, c.Will.QoS))
	}

	if c.Reconnect.Enabled {
		opts = append(opts, WithAutoReconnect(true))
		initial, _ := parseDuration(c.Reconnect.InitialBackoff)
		maximum, _ := parseDuration(c.Reconnect.MaxBackoff)
		if initial > 0 || maximum > 0 {
			def := defaultOptions()
			if initial <= 0 {
				initial = def.reconnectBackoff
			}
			if maximum <= 0 {
				maximum = def.maxBackoff
			}
			opts = append(opts, WithReconnectBackoff(initial, maximum))
		}
		if c.Reconnect.MaxAttempts != nil {
			opts = append(opts, WithMaxReconnects(*c.Reconnect.MaxAttempts))
		}
	}
	return opts
}
