// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config defines the global configuration structure
type Config struct {
	Log          LogConfig         `mapstructure:"log"`
	Modbus       ModbusConfig      `mapstructure:"modbus"`
	Link         LinkConfig        `mapstructure:"link"`
	Direction    DirectionConfig   `mapstructure:"direction"`
	Sensor       SensorConfig      `mapstructure:"sensor"`
	Settings     PersistenceConfig `mapstructure:"settings"`
	Master       MasterConfig      `mapstructure:"master"`
	Telemetry    TelemetryConfig   `mapstructure:"telemetry"`
	LoopInterval time.Duration     `mapstructure:"loop_interval"` // Main loop period
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// ModbusConfig selects the protocol engine.
type ModbusConfig struct {
	Role    string `mapstructure:"role"`    // "slave", "master"
	Framing string `mapstructure:"framing"` // "rtu", "tcp"
}

// LinkConfig defines the physical link carrying the frames
type LinkConfig struct {
	Type   string       `mapstructure:"type"`   // "rtu", "tcp", "rtu-over-tcp"
	Tcp    TcpConfig    `mapstructure:"tcp"`    // Used if Type is "tcp" or "rtu-over-tcp"
	Serial SerialConfig `mapstructure:"serial"` // Used if Type is "rtu"
}

// TcpConfig defines TCP settings. The slave role listens on Address,
// the master role dials it.
type TcpConfig struct {
	Address string `mapstructure:"address"` // e.g. "0.0.0.0:502" or "192.168.1.100:502"
}

// SerialConfig defines RTU settings
type SerialConfig struct {
	Device       string        `mapstructure:"device"`
	BaudRate     int           `mapstructure:"baud_rate"`
	DataBits     int           `mapstructure:"data_bits"`
	Parity       string        `mapstructure:"parity"`
	StopBits     int           `mapstructure:"stop_bits"`
	FrameTimeout time.Duration `mapstructure:"frame_timeout"` // Line silence that ends a frame

	// RS485 specific
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// DirectionConfig defines the transceiver driver-enable line
type DirectionConfig struct {
	Type      string        `mapstructure:"type"` // "none", "gpio"
	Pin       string        `mapstructure:"pin"`
	ActiveLow bool          `mapstructure:"active_low"`
	Settle    time.Duration `mapstructure:"settle"` // Delay around each transmission
}

// SensorConfig defines the proximity sensor input
type SensorConfig struct {
	Source           string        `mapstructure:"source"` // "gpio", "simulate"
	Pin              string        `mapstructure:"pin"`
	SimulateInterval time.Duration `mapstructure:"simulate_interval"`
	TimerFrequency   uint32        `mapstructure:"timer_frequency"`
	TimerWrap        uint32        `mapstructure:"timer_wrap"`
}

// PersistenceConfig defines data storage settings
type PersistenceConfig struct {
	Type string `mapstructure:"type"` // "memory", "file", "mmap", "sql"
	Path string `mapstructure:"path"` // File path or DSN
}

// MasterConfig defines the periodic write issued in the master role
type MasterConfig struct {
	UnitID       uint8         `mapstructure:"unit_id"`
	Register     uint16        `mapstructure:"register"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"` // Response wait time
}

// TelemetryConfig defines the optional MQTT publisher
type TelemetryConfig struct {
	Broker   string        `mapstructure:"broker"` // Empty disables telemetry
	ClientID string        `mapstructure:"client_id"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Topic    string        `mapstructure:"topic"`
	Interval time.Duration `mapstructure:"interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("loop_interval", 10*time.Millisecond)

	v.SetDefault("modbus.role", "slave")

	v.SetDefault("link.type", "rtu")
	v.SetDefault("link.tcp.address", "0.0.0.0:502")
	v.SetDefault("link.serial.device", "/dev/ttyUSB0")
	v.SetDefault("link.serial.baud_rate", 9600)
	v.SetDefault("link.serial.data_bits", 8)
	v.SetDefault("link.serial.parity", "N")
	v.SetDefault("link.serial.stop_bits", 1)

	v.SetDefault("direction.type", "none")
	v.SetDefault("direction.settle", 10*time.Millisecond)

	v.SetDefault("sensor.source", "gpio")
	v.SetDefault("sensor.simulate_interval", 50*time.Millisecond)
	v.SetDefault("sensor.timer_frequency", 1000000)
	v.SetDefault("sensor.timer_wrap", 65536)

	v.SetDefault("settings.type", "file")
	v.SetDefault("settings.path", "tachometer-settings.yaml")

	v.SetDefault("master.unit_id", 1)
	v.SetDefault("master.register", 0)
	v.SetDefault("master.poll_interval", time.Second)
	v.SetDefault("master.timeout", 500*time.Millisecond)

	v.SetDefault("telemetry.client_id", "tachometer")
	v.SetDefault("telemetry.topic", "tachometer/speed")
	v.SetDefault("telemetry.interval", time.Second)
}

// Flags returns the command line flags understood by Load.
func Flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringP("config", "c", "", "Configuration file path.")
	fs.StringP("log.level", "v", "info", "Log verbosity level (debug, info, warn, error).")
	fs.StringP("log.file", "L", "", "Log file name (empty for logging to STDOUT only).")
	fs.String("modbus.role", "slave", "Modbus role (slave, master).")
	fs.String("modbus.framing", "", "Modbus framing (rtu, tcp); follows the link type when empty.")
	fs.StringP("link.type", "t", "rtu", "Link type (rtu, tcp, rtu-over-tcp).")
	fs.StringP("link.serial.device", "p", "/dev/ttyUSB0", "Serial port device name.")
	fs.IntP("link.serial.baud_rate", "s", 9600, "Serial port speed.")
	fs.StringP("link.tcp.address", "A", "0.0.0.0:502", "TCP address to listen on or dial.")
	fs.String("sensor.source", "gpio", "Pulse source (gpio, simulate).")
	return fs
}

// Load parses args, reads the configuration file and returns the merged
// configuration. Flags set on the command line win over the file.
func Load(args []string) (*Config, error) {
	fs := Flags("tachometer")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	configFile, _ := fs.GetString("config")
	return LoadConfig(configFile, fs)
}

// LoadConfig loads configuration from file. Without an explicit file the
// search paths are tried and a missing file leaves the defaults in place.
func LoadConfig(configFile string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/tachometer/")
		v.AddConfigPath("$HOME/.tachometer")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if fs != nil {
		if err := v.BindPFlags(changedOnly(fs)); err != nil {
			return nil, fmt.Errorf("failed to bind pflags: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate / Fixups
	fixupSerial(&config.Link.Serial)
	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// changedOnly keeps the flags given on the command line, so flag
// defaults never shadow values from the file.
func changedOnly(fs *pflag.FlagSet) *pflag.FlagSet {
	out := pflag.NewFlagSet(fs.Name(), pflag.ContinueOnError)
	fs.Visit(func(f *pflag.Flag) {
		if f.Name != "config" {
			out.AddFlag(f)
		}
	})
	return out
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.FrameTimeout == 0 {
		s.FrameTimeout = 20 * time.Millisecond
	}
}

func (c *Config) validate() error {
	c.Modbus.Role = strings.ToLower(c.Modbus.Role)
	c.Modbus.Framing = strings.ToLower(c.Modbus.Framing)
	c.Link.Type = strings.ToLower(c.Link.Type)
	if c.Modbus.Framing == "" {
		c.Modbus.Framing = "rtu"
		if c.Link.Type == "tcp" {
			c.Modbus.Framing = "tcp"
		}
	}

	switch c.Modbus.Role {
	case "slave", "master":
	default:
		return fmt.Errorf("unknown modbus role: %s", c.Modbus.Role)
	}

	switch c.Link.Type {
	case "rtu", "rtu-over-tcp":
		if c.Modbus.Framing != "rtu" {
			return fmt.Errorf("link type %s carries rtu framing, got %s", c.Link.Type, c.Modbus.Framing)
		}
	case "tcp":
		if c.Modbus.Framing != "tcp" {
			return fmt.Errorf("link type tcp carries tcp framing, got %s", c.Modbus.Framing)
		}
	default:
		return fmt.Errorf("unknown link type: %s", c.Link.Type)
	}
	if c.LoopInterval <= 0 {
		return fmt.Errorf("loop_interval must be positive")
	}
	if c.Sensor.TimerWrap == 0 || c.Sensor.TimerWrap > 1<<16 {
		return fmt.Errorf("sensor.timer_wrap must be in 1..65536, got %d", c.Sensor.TimerWrap)
	}
	if c.Sensor.TimerFrequency == 0 {
		return fmt.Errorf("sensor.timer_frequency must be positive")
	}
	return nil
}
