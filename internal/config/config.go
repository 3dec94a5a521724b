package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. STATION_MQTT_BROKER_URL.
const EnvPrefix = "STATION"

type Config struct {
	Station   StationConfig   `mapstructure:"station" yaml:"station"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	MQTT      MQTTConfig      `mapstructure:"mqtt" yaml:"mqtt"`
	WiFi      WiFiConfig      `mapstructure:"wifi" yaml:"wifi"`
	Hardware  HardwareConfig  `mapstructure:"hardware" yaml:"hardware"`
	Soil      SoilConfig      `mapstructure:"soil" yaml:"soil"`
	Pump      PumpConfig      `mapstructure:"pump" yaml:"pump"`
	Schedule  ScheduleConfig  `mapstructure:"schedule" yaml:"schedule"`
	TimeSync  TimeSyncConfig  `mapstructure:"timesync" yaml:"timesync"`
	Webhook   WebhookConfig   `mapstructure:"webhook" yaml:"webhook"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Console   ConsoleConfig   `mapstructure:"console" yaml:"console"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
}

type StationConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// MQTTConfig holds the broker connection and the topic layout.
type MQTTConfig struct {
	BrokerURL     string        `mapstructure:"broker_url" yaml:"broker_url"`
	ClientID      string        `mapstructure:"client_id" yaml:"client_id"`
	Username      string        `mapstructure:"username" yaml:"username"`
	Password      string        `mapstructure:"password" yaml:"password"`
	QoS           byte          `mapstructure:"qos" yaml:"qos"`
	KeepAlive     time.Duration `mapstructure:"keep_alive" yaml:"keep_alive"`
	MaxRetries    int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryInterval time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`
	CommandTopic  string        `mapstructure:"command_topic" yaml:"command_topic"`
	MessageTopic  string        `mapstructure:"message_topic" yaml:"message_topic"`
	ErrorTopic    string        `mapstructure:"error_topic" yaml:"error_topic"`
	StatusTopic   string        `mapstructure:"status_topic" yaml:"status_topic"`
}

// WiFiConfig describes the wireless link and the power-save policy.
type WiFiConfig struct {
	Interface        string        `mapstructure:"interface" yaml:"interface"`
	SSID             string        `mapstructure:"ssid" yaml:"ssid"`
	Password         string        `mapstructure:"password" yaml:"password"`
	SettleDelay      time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	ReconnectTimeout time.Duration `mapstructure:"reconnect_timeout" yaml:"reconnect_timeout"`
	PowerSave        bool          `mapstructure:"power_save" yaml:"power_save"`
}

// HardwareConfig maps the physical wiring on the Pi header.
type HardwareConfig struct {
	I2CBus         int    `mapstructure:"i2c_bus" yaml:"i2c_bus"`
	EnableBME280   bool   `mapstructure:"enable_bme280" yaml:"enable_bme280"`
	BME280Address  int    `mapstructure:"bme280_address" yaml:"bme280_address"`
	EnableSoil     bool   `mapstructure:"enable_soil" yaml:"enable_soil"`
	ADS1115Address int    `mapstructure:"ads1115_address" yaml:"ads1115_address"`
	SoilChannel    string `mapstructure:"soil_channel" yaml:"soil_channel"`
	PumpPin        string `mapstructure:"pump_pin" yaml:"pump_pin"`
	LampPin        string `mapstructure:"lamp_pin" yaml:"lamp_pin"`
	RelayInverted  bool   `mapstructure:"relay_inverted" yaml:"relay_inverted"`
	StatusGreenPin string `mapstructure:"status_green_pin" yaml:"status_green_pin"`
	StatusRedPin   string `mapstructure:"status_red_pin" yaml:"status_red_pin"`
}

// SoilConfig is the dry/wet calibration window of the capacitive probe.
type SoilConfig struct {
	DryRaw  int `mapstructure:"dry_raw" yaml:"dry_raw"`
	WetRaw  int `mapstructure:"wet_raw" yaml:"wet_raw"`
	MinRaw  int `mapstructure:"min_raw" yaml:"min_raw"`
	Samples int `mapstructure:"samples" yaml:"samples"`
}

type PumpConfig struct {
	MaxRun time.Duration `mapstructure:"max_run" yaml:"max_run"`
}

type ScheduleConfig struct {
	ReportHour int  `mapstructure:"report_hour" yaml:"report_hour"`
	Realign    bool `mapstructure:"realign" yaml:"realign"`
}

type TimeSyncConfig struct {
	Servers    []string      `mapstructure:"servers" yaml:"servers"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Resync     time.Duration `mapstructure:"resync" yaml:"resync"`
	MaxBackoff time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
}

type WebhookConfig struct {
	URL             string        `mapstructure:"url" yaml:"url"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	BreakerFailures int           `mapstructure:"breaker_failures" yaml:"breaker_failures"`
	BreakerOpen     time.Duration `mapstructure:"breaker_open" yaml:"breaker_open"`
}

type TelemetryConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

type ConsoleConfig struct {
	Addr         string `mapstructure:"addr" yaml:"addr"`
	Username     string `mapstructure:"username" yaml:"username"`
	PasswordHash string `mapstructure:"password_hash" yaml:"password_hash"`
}

type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("station.name", "soil-station")
	v.SetDefault("log.level", "info")

	v.SetDefault("mqtt.broker_url", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.keep_alive", 120*time.Second)
	v.SetDefault("mqtt.max_retries", 3)
	v.SetDefault("mqtt.retry_interval", 2*time.Second)
	v.SetDefault("mqtt.command_topic", "station/cmd")
	v.SetDefault("mqtt.message_topic", "feeds/message")
	v.SetDefault("mqtt.error_topic", "error/message")
	v.SetDefault("mqtt.status_topic", "status/sensor")

	v.SetDefault("wifi.interface", "wlan0")
	v.SetDefault("wifi.ssid", "")
	v.SetDefault("wifi.password", "")
	v.SetDefault("wifi.settle_delay", 3*time.Second)
	v.SetDefault("wifi.reconnect_timeout", 30*time.Second)
	v.SetDefault("wifi.power_save", false)

	v.SetDefault("hardware.i2c_bus", 1)
	v.SetDefault("hardware.enable_bme280", true)
	v.SetDefault("hardware.bme280_address", 0x76)
	v.SetDefault("hardware.enable_soil", true)
	v.SetDefault("hardware.ads1115_address", 0x48)
	v.SetDefault("hardware.soil_channel", "0")
	v.SetDefault("hardware.pump_pin", "37")
	v.SetDefault("hardware.lamp_pin", "12")
	v.SetDefault("hardware.relay_inverted", true)
	v.SetDefault("hardware.status_green_pin", "16")
	v.SetDefault("hardware.status_red_pin", "18")

	v.SetDefault("soil.dry_raw", 2800)
	v.SetDefault("soil.wet_raw", 1300)
	v.SetDefault("soil.min_raw", 1000)
	v.SetDefault("soil.samples", 8)

	v.SetDefault("pump.max_run", 2*time.Minute)

	v.SetDefault("schedule.report_hour", 8)
	v.SetDefault("schedule.realign", false)

	v.SetDefault("timesync.servers", []string{"pool.ntp.org", "time.google.com"})
	v.SetDefault("timesync.timeout", 5*time.Second)
	v.SetDefault("timesync.resync", 6*time.Hour)
	v.SetDefault("timesync.max_backoff", 5*time.Minute)

	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.timeout", 10*time.Second)
	v.SetDefault("webhook.breaker_failures", 3)
	v.SetDefault("webhook.breaker_open", 5*time.Minute)

	v.SetDefault("telemetry.interval", 10*time.Minute)

	v.SetDefault("console.addr", ":4000")
	v.SetDefault("console.username", "")
	v.SetDefault("console.password_hash", "")

	v.SetDefault("store.path", "/var/lib/station/station.db")
}

// Load reads the YAML file at path (optional when empty) and applies
// STATION_* environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Schedule.ReportHour < 0 || c.Schedule.ReportHour > 23 {
		errs = append(errs, fmt.Errorf("schedule.report_hour must be 0-23, got %d", c.Schedule.ReportHour))
	}
	if c.Soil.DryRaw <= c.Soil.WetRaw {
		errs = append(errs, fmt.Errorf("soil.dry_raw (%d) must be above soil.wet_raw (%d)", c.Soil.DryRaw, c.Soil.WetRaw))
	}
	if c.Soil.MinRaw >= c.Soil.WetRaw {
		errs = append(errs, fmt.Errorf("soil.min_raw (%d) must be below soil.wet_raw (%d)", c.Soil.MinRaw, c.Soil.WetRaw))
	}
	if c.Soil.Samples < 1 {
		errs = append(errs, errors.New("soil.samples must be at least 1"))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	if c.MQTT.BrokerURL == "" {
		errs = append(errs, errors.New("mqtt.broker_url is required"))
	}
	for name, topic := range map[string]string{
		"mqtt.command_topic": c.MQTT.CommandTopic,
		"mqtt.message_topic": c.MQTT.MessageTopic,
		"mqtt.error_topic":   c.MQTT.ErrorTopic,
		"mqtt.status_topic":  c.MQTT.StatusTopic,
	} {
		if topic == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	if c.Telemetry.Interval < 0 {
		errs = append(errs, errors.New("telemetry.interval cannot be negative"))
	}
	if c.Pump.MaxRun < 0 {
		errs = append(errs, errors.New("pump.max_run cannot be negative"))
	}
	if c.Console.Username != "" && c.Console.PasswordHash == "" {
		errs = append(errs, errors.New("console.password_hash is required when console.username is set"))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy with secrets masked, for printing.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.MQTT.Password = mask(c.MQTT.Password)
	c.WiFi.Password = mask(c.WiFi.Password)
	c.Console.PasswordHash = mask(c.Console.PasswordHash)
	return c
}
