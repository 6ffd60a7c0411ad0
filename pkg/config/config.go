package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the node configuration. It is loaded once at boot and
// never mutated afterwards.
type Config struct {
	Device      DeviceConfig      `yaml:"device"`
	Probe       ProbeConfig       `yaml:"probe"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Environment EnvironmentConfig `yaml:"environment"`
	Sampling    SamplingConfig    `yaml:"sampling"`
	Link        LinkConfig        `yaml:"link"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	LogStore    LogStoreConfig    `yaml:"log_store"`
	Diag        DiagConfig        `yaml:"diag"`
	Mock        MockConfig        `yaml:"mock"`
}

// DeviceConfig contains device identity settings.
type DeviceConfig struct {
	UID string `yaml:"uid"` // Overrides the hardware derived UID when set
}

// ProbeConfig contains analog front end settings.
type ProbeConfig struct {
	Driver         string        `yaml:"driver"` // "serial" or "mock"
	Port           string        `yaml:"port"`
	BaudRate       int           `yaml:"baud_rate"`
	Channel        int           `yaml:"channel"`
	AverageSamples int           `yaml:"average_samples"`
	FullScaleMv    float64       `yaml:"full_scale_mv"` // Millivolts at code 4095
	StaleAfter     time.Duration `yaml:"stale_after"`
}

// CalibrationConfig contains the dry/wet raw bounds of the soil sensor.
type CalibrationConfig struct {
	DryRaw int `yaml:"dry_raw"`
	WetRaw int `yaml:"wet_raw"`
}

// EnvironmentConfig contains the optional temperature/humidity sensor settings.
type EnvironmentConfig struct {
	Driver  string        `yaml:"driver"` // "none", "bme280" or "mock"
	I2CBus  string        `yaml:"i2c_bus"`
	Address uint16        `yaml:"address"`
	Timeout time.Duration `yaml:"timeout"`
}

// SamplingConfig contains loop timing.
type SamplingConfig struct {
	Period          time.Duration `yaml:"period"`
	PublishInterval time.Duration `yaml:"publish_interval"`
}

// LinkConfig contains network link settings.
type LinkConfig struct {
	Driver        string        `yaml:"driver"` // "static" or "networkmanager"
	Interface     string        `yaml:"interface"`
	SSID          string        `yaml:"ssid"`
	Password      string        `yaml:"password"`
	BootTimeout   time.Duration `yaml:"boot_timeout"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// MQTTConfig contains broker settings.
type MQTTConfig struct {
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	DataTopic      string        `yaml:"data_topic"`
	CommandTopic   string        `yaml:"command_topic"`
	QoS            byte          `yaml:"qos"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
}

// LogStoreConfig contains local persistence settings.
type LogStoreConfig struct {
	Driver      string `yaml:"driver"` // "csv", "bolt" or "sqlite"
	Path        string `yaml:"path"`
	ValueColumn string `yaml:"value_column"` // "soil_pct" or "voltage_mv"
}

// DiagConfig contains the local diagnostics HTTP server settings.
type DiagConfig struct {
	Address       string        `yaml:"address"` // Empty disables the server
	HistoryWindow time.Duration `yaml:"history_window"`
}

// MockConfig contains simulated front end settings.
type MockConfig struct {
	StartPercent    float64       `yaml:"start_percent"`     // Initial soil moisture (%)
	DryingPerMinute float64       `yaml:"drying_per_minute"` // Moisture loss (%/min)
	Noise           float64       `yaml:"noise"`             // Peak noise (ADC codes)
	SampleRate      time.Duration `yaml:"sample_rate"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Probe: ProbeConfig{
			Driver:         "serial",
			Port:           "/dev/ttyACM0",
			BaudRate:       115200,
			Channel:        6,
			AverageSamples: 8,
			FullScaleMv:    3300,
			StaleAfter:     5 * time.Second,
		},
		Calibration: CalibrationConfig{
			DryRaw: 1200,
			WetRaw: 3000,
		},
		Environment: EnvironmentConfig{
			Driver:  "none",
			Address: 0x76,
			Timeout: 500 * time.Millisecond,
		},
		Sampling: SamplingConfig{
			Period:          time.Second,
			PublishInterval: 60 * time.Second,
		},
		Link: LinkConfig{
			Driver:        "static",
			BootTimeout:   15 * time.Second,
			RetryInterval: 5 * time.Second,
		},
		MQTT: MQTTConfig{
			Broker:         "tcp://localhost:1883",
			DataTopic:      "soil/data",
			CommandTopic:   "soil/cmd",
			QoS:            1,
			ConnectTimeout: 10 * time.Second,
			PublishTimeout: 5 * time.Second,
			KeepAlive:      30 * time.Second,
		},
		LogStore: LogStoreConfig{
			Driver:      "csv",
			Path:        "soil_log.csv",
			ValueColumn: "soil_pct",
		},
		Diag: DiagConfig{
			HistoryWindow: time.Hour,
		},
		Mock: MockConfig{
			StartPercent:    60,
			DryingPerMinute: 1.5,
			Noise:           8,
			SampleRate:      100 * time.Millisecond,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate rejects values the node cannot run with. A degenerate calibration
// (wet <= dry) is accepted: conversion falls back to 0%.
func (c *Config) Validate() error {
	switch c.Probe.Driver {
	case "serial", "mock":
	default:
		return fmt.Errorf("unknown probe driver %q", c.Probe.Driver)
	}
	switch c.Environment.Driver {
	case "none", "bme280", "mock":
	default:
		return fmt.Errorf("unknown environment driver %q", c.Environment.Driver)
	}
	switch c.Link.Driver {
	case "static", "networkmanager":
	default:
		return fmt.Errorf("unknown link driver %q", c.Link.Driver)
	}
	switch c.LogStore.Driver {
	case "csv", "bolt", "sqlite":
	default:
		return fmt.Errorf("unknown log store driver %q", c.LogStore.Driver)
	}
	switch c.LogStore.ValueColumn {
	case "soil_pct", "voltage_mv":
	default:
		return fmt.Errorf("unknown log value column %q", c.LogStore.ValueColumn)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("invalid mqtt qos %d", c.MQTT.QoS)
	}
	if c.MQTT.DataTopic == c.MQTT.CommandTopic {
		return fmt.Errorf("data and command topics must differ: %q", c.MQTT.DataTopic)
	}
	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Probe.Driver == "" {
		c.Probe.Driver = def.Probe.Driver
	}
	if c.Probe.BaudRate == 0 {
		c.Probe.BaudRate = def.Probe.BaudRate
	}
	if c.Probe.AverageSamples <= 0 {
		c.Probe.AverageSamples = 1
	}
	if c.Probe.FullScaleMv == 0 {
		c.Probe.FullScaleMv = def.Probe.FullScaleMv
	}
	if c.Probe.StaleAfter == 0 {
		c.Probe.StaleAfter = def.Probe.StaleAfter
	}

	if c.Environment.Driver == "" {
		c.Environment.Driver = def.Environment.Driver
	}
	if c.Environment.Address == 0 {
		c.Environment.Address = def.Environment.Address
	}
	if c.Environment.Timeout == 0 {
		c.Environment.Timeout = def.Environment.Timeout
	}

	if c.Sampling.Period == 0 {
		c.Sampling.Period = def.Sampling.Period
	}
	if c.Sampling.PublishInterval == 0 {
		c.Sampling.PublishInterval = def.Sampling.PublishInterval
	}

	if c.Link.Driver == "" {
		c.Link.Driver = def.Link.Driver
	}
	if c.Link.BootTimeout == 0 {
		c.Link.BootTimeout = def.Link.BootTimeout
	}
	if c.Link.RetryInterval == 0 {
		c.Link.RetryInterval = def.Link.RetryInterval
	}

	if c.MQTT.Broker == "" {
		c.MQTT.Broker = def.MQTT.Broker
	}
	if c.MQTT.DataTopic == "" {
		c.MQTT.DataTopic = def.MQTT.DataTopic
	}
	if c.MQTT.CommandTopic == "" {
		c.MQTT.CommandTopic = def.MQTT.CommandTopic
	}
	if c.MQTT.ConnectTimeout == 0 {
		c.MQTT.ConnectTimeout = def.MQTT.ConnectTimeout
	}
	if c.MQTT.PublishTimeout == 0 {
		c.MQTT.PublishTimeout = def.MQTT.PublishTimeout
	}
	if c.MQTT.KeepAlive == 0 {
		c.MQTT.KeepAlive = def.MQTT.KeepAlive
	}

	if c.LogStore.Driver == "" {
		c.LogStore.Driver = def.LogStore.Driver
	}
	if c.LogStore.Path == "" {
		c.LogStore.Path = def.LogStore.Path
	}
	if c.LogStore.ValueColumn == "" {
		c.LogStore.ValueColumn = def.LogStore.ValueColumn
	}

	if c.Diag.HistoryWindow == 0 {
		c.Diag.HistoryWindow = def.Diag.HistoryWindow
	}

	if c.Mock.SampleRate == 0 {
		c.Mock.SampleRate = def.Mock.SampleRate
	}
}
