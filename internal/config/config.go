package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Actuator drivers.
const (
	DriverSim    = "sim"
	DriverCAN    = "can"
	DriverSerial = "serial"
)

// Power monitors.
const (
	PowerNone   = "none"
	PowerINA219 = "ina219"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker            string
	MQTTClientIDTestboard string
	MQTTClientIDConsole   string

	// Topics
	TopicTelemetryPrefix string
	TopicCycleEvents     string

	// Controller
	TickInterval int // milliseconds

	// Actuator
	ActuatorDriver string // sim, can, serial
	CANInterface   string
	CANNodeID      uint8
	SerialPort     string // device path or "auto"
	SerialBaudRate uint

	// Trigger
	TriggerGPIOPin       string // empty disables the hardware button
	TriggerDebounceTicks int

	// Power monitor
	PowerMonitor        string // none, ina219
	PowerI2CBus         string
	PowerI2CAddr        uint16
	PowerSampleInterval int // milliseconds

	// Files
	CalibrationFile string
	ReportDir       string // empty disables report files

	// Web Server
	WebServerPort int

	// Display
	DisplayI2CAddr        uint16 // 0 disables the display
	DisplayUpdateInterval int    // milliseconds

	LogLevel string
}

// Default returns the configuration used for keys missing from the file.
func Default() *Config {
	return &Config{
		MQTTBroker:            "tcp://localhost:1883",
		MQTTClientIDTestboard: "pid-testboard",
		MQTTClientIDConsole:   "pid-testboard-console",
		TopicTelemetryPrefix:  "testboard/telemetry",
		TopicCycleEvents:      "testboard/cycle",
		TickInterval:          20,
		ActuatorDriver:        DriverSim,
		CANInterface:          "can0",
		SerialPort:            "auto",
		SerialBaudRate:        115200,
		TriggerDebounceTicks:  3,
		PowerMonitor:          PowerNone,
		PowerI2CAddr:          0x40,
		PowerSampleInterval:   50,
		CalibrationFile:       "calibration/testboard.json",
		ReportDir:             "reports",
		WebServerPort:         8080,
		DisplayUpdateInterval: 250,
		LogLevel:              "info",
	}
}

// TickPeriod is TickInterval as a duration.
func (c *Config) TickPeriod() time.Duration {
	return time.Duration(c.TickInterval) * time.Millisecond
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the configuration file and returns a Config struct. Keys not in
// the file keep their Default value.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open config file")
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, errors.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, errors.Wrapf(err, "config line %d", lineNum)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "error reading config file")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func atoiRange(key, value string, min, max int) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s %q", key, value)
	}
	if v < min || v > max {
		return 0, errors.Errorf("%s must be %d-%d, got %d", key, min, max, v)
	}
	return v, nil
}

func parseAddr(key, value string) (uint16, error) {
	addr, err := strconv.ParseUint(value, 0, 16)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s %q", key, value)
	}
	return uint16(addr), nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_TESTBOARD":
		c.MQTTClientIDTestboard = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value

	// Topics
	case "TOPIC_TELEMETRY_PREFIX":
		c.TopicTelemetryPrefix = strings.TrimSuffix(value, "/")
	case "TOPIC_CYCLE_EVENTS":
		c.TopicCycleEvents = value

	case "TICK_INTERVAL":
		c.TickInterval, err = atoiRange(key, value, 1, 1000)

	// Actuator
	case "ACTUATOR_DRIVER":
		switch v := strings.ToLower(value); v {
		case DriverSim, DriverCAN, DriverSerial:
			c.ActuatorDriver = v
		default:
			return errors.Errorf("ACTUATOR_DRIVER must be sim, can or serial, got %q", value)
		}
	case "CAN_INTERFACE":
		c.CANInterface = value
	case "CAN_NODE_ID":
		var id int
		id, err = atoiRange(key, value, 0, 63)
		c.CANNodeID = uint8(id)
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		var rate int
		rate, err = atoiRange(key, value, 1200, 4000000)
		c.SerialBaudRate = uint(rate)

	// Trigger
	case "TRIGGER_GPIO_PIN":
		c.TriggerGPIOPin = value
	case "TRIGGER_DEBOUNCE_TICKS":
		c.TriggerDebounceTicks, err = atoiRange(key, value, 0, 100)

	// Power monitor
	case "POWER_MONITOR":
		switch v := strings.ToLower(value); v {
		case PowerNone, PowerINA219:
			c.PowerMonitor = v
		default:
			return errors.Errorf("POWER_MONITOR must be none or ina219, got %q", value)
		}
	case "POWER_I2C_BUS":
		c.PowerI2CBus = value
	case "POWER_I2C_ADDR":
		c.PowerI2CAddr, err = parseAddr(key, value)
	case "POWER_SAMPLE_INTERVAL":
		c.PowerSampleInterval, err = atoiRange(key, value, 1, 10000)

	// Files
	case "CALIBRATION_FILE":
		c.CalibrationFile = value
	case "REPORT_DIR":
		c.ReportDir = value

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = atoiRange(key, value, 1, 65535)

	// Display
	case "DISPLAY_I2C_ADDR":
		c.DisplayI2CAddr, err = parseAddr(key, value)
	case "DISPLAY_UPDATE_INTERVAL":
		c.DisplayUpdateInterval, err = atoiRange(key, value, 10, 60000)

	case "LOG_LEVEL":
		c.LogLevel = strings.ToLower(value)

	default:
		return errors.Errorf("unknown config key: %q", key)
	}

	return err
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return errors.New("MQTT_BROKER is required")
	}
	if c.TickInterval == 0 {
		return errors.New("TICK_INTERVAL is required")
	}
	if c.CalibrationFile == "" {
		return errors.New("CALIBRATION_FILE is required")
	}
	switch c.ActuatorDriver {
	case DriverCAN:
		if c.CANInterface == "" {
			return errors.New("CAN_INTERFACE is required when ACTUATOR_DRIVER=can")
		}
	case DriverSerial:
		if c.SerialPort == "" {
			return errors.New("SERIAL_PORT is required when ACTUATOR_DRIVER=serial")
		}
	case "":
		return errors.New("ACTUATOR_DRIVER is required")
	}
	if c.PowerMonitor == PowerINA219 && c.PowerI2CAddr == 0 {
		return errors.New("POWER_I2C_ADDR is required when POWER_MONITOR=ina219")
	}
	return nil
}

// InitGlobal initializes the global configuration from file. Only the first
// call loads; later calls return nil.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance, nil before InitGlobal.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
