package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Backends selectable in the config file.
const (
	GPSSourceNMEA = "nmea"
	GPSSourceSim  = "sim"

	LoRaWANBackendModem = "modem"
	LoRaWANBackendMQTT  = "mqtt"

	GPIOBackendPeriph   = "periph"
	GPIOBackendGPIOCdev = "gpiocdev"
)

// Config holds all application configuration values.
type Config struct {
	// Logging
	LogLevel      string
	LogFile       string
	LogMaxAgeDays int

	// GPS
	GPSSource           string
	GPSSerialPort       string
	GPSBaudRate         int
	GPSReadTimeoutMS    int
	GPSEnablePin        string
	GPSSimLat           float64
	GPSSimLon           float64
	GPSQualityThreshold uint
	GPSCounterThreshold uint
	GPSPollIntervalMS   int

	// Control loop
	AppSleepTimeS     int
	PayloadBufferSize int

	// LoRaWAN
	LoRaWANBackend     string
	LoRaWANSerialPort  string
	LoRaWANBaudRate    int
	LoRaWANDevAddr     string
	LoRaWANNwkSKey     string
	LoRaWANAppSKey     string
	LoRaWANDataRate    int
	LoRaWANTxPort      int
	LoRaWANJoinRetries int
	LoRaWANJoinBackoff int // milliseconds
	LoRaWANSessionFile string
	LoRaWANAppID       string
	LoRaWANDevID       string

	// Board
	GPIOBackend string
	LEDPin      string
	PowerPin    string

	// MQTT
	MQTTBroker          string
	MQTTClientIDTracker string
	MQTTClientIDConsole string
	MQTTClientIDWeb     string
	MQTTClientIDDisplay string
	MQTTClientIDProxy   string

	// Topics
	TopicStatus       string
	TopicUplinkPrefix string

	// Web Server
	WebServerPort int
	WebStaticDir  string

	// Display
	DisplayI2CBus         string
	DisplayUpdateInterval int // milliseconds

	// Uplink proxy
	ProxyDatastreamsFile  string
	ProxyCoordScale       float64
	ProxyLogPattern       string // strftime pattern
	ProxyTokenURL         string
	ProxyClientID         string
	ProxyClientSecret     string
	ProxyUsername         string
	ProxyPassword         string
	ProxyRefreshTokenFile string
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: only reachable through InitGlobal and Get.
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: RWMutex protects concurrent access.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns a Config with every optional value filled in.
func Default() *Config {
	return &Config{
		LogLevel:      "INFO",
		LogMaxAgeDays: 30,

		GPSSource:           GPSSourceNMEA,
		GPSSerialPort:       "/dev/serial0",
		GPSBaudRate:         9600,
		GPSReadTimeoutMS:    1000,
		GPSSimLat:           47.4,
		GPSSimLon:           8.57,
		GPSQualityThreshold: 5,
		GPSCounterThreshold: 20,

		AppSleepTimeS:     60,
		PayloadBufferSize: 51,

		LoRaWANBackend:     LoRaWANBackendModem,
		LoRaWANSerialPort:  "/dev/ttyUSB0",
		LoRaWANBaudRate:    57600,
		LoRaWANDataRate:    5,
		LoRaWANTxPort:      2,
		LoRaWANJoinRetries: 3,
		LoRaWANJoinBackoff: 2000,
		LoRaWANSessionFile: "./lorawan_session.yaml",

		GPIOBackend: GPIOBackendPeriph,

		MQTTBroker:          "tcp://localhost:1883",
		MQTTClientIDTracker: "gps-tracker",
		MQTTClientIDConsole: "gps-tracker-console",
		MQTTClientIDWeb:     "gps-tracker-web",
		MQTTClientIDDisplay: "gps-tracker-display",
		MQTTClientIDProxy:   "gps-tracker-proxy",

		TopicStatus:       "tracker/status",
		TopicUplinkPrefix: "tracker",

		WebServerPort: 8080,
		WebStaticDir:  "web",

		DisplayUpdateInterval: 500,

		ProxyCoordScale:       10000000,
		ProxyLogPattern:       "%Y%m%d_proxy.log",
		ProxyRefreshTokenFile: "refresh_token.txt",
	}
}

// Load reads the configuration file on top of Default.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseInt(key, value string, lo, hi int) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%s must be %d-%d, got %d", key, lo, hi, v)
	}
	return v, nil
}

func parseFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// Logging
	case "LOG_LEVEL":
		c.LogLevel = strings.ToUpper(value)
	case "LOG_FILE":
		c.LogFile = value
	case "LOG_MAX_AGE_DAYS":
		c.LogMaxAgeDays, err = parseInt(key, value, 0, 3650)

	// GPS
	case "GPS_SOURCE":
		c.GPSSource = strings.ToLower(value)
	case "GPS_SERIAL_PORT":
		c.GPSSerialPort = value
	case "GPS_BAUD_RATE":
		c.GPSBaudRate, err = parseInt(key, value, 1, 4000000)
	case "GPS_READ_TIMEOUT_MS":
		c.GPSReadTimeoutMS, err = parseInt(key, value, 100, 60000)
	case "GPS_ENABLE_PIN":
		c.GPSEnablePin = value
	case "GPS_SIM_LAT":
		c.GPSSimLat, err = parseFloat(key, value)
	case "GPS_SIM_LON":
		c.GPSSimLon, err = parseFloat(key, value)
	case "GPS_QUALITY_THRESHOLD":
		var v int
		v, err = parseInt(key, value, 0, 1<<20)
		c.GPSQualityThreshold = uint(v)
	case "GPS_COUNTER_THRESHOLD":
		var v int
		v, err = parseInt(key, value, 0, 1<<20)
		c.GPSCounterThreshold = uint(v)
	case "GPS_POLL_INTERVAL_MS":
		c.GPSPollIntervalMS, err = parseInt(key, value, 0, 60000)

	// Control loop
	case "APP_SLEEP_TIME_S":
		c.AppSleepTimeS, err = parseInt(key, value, 0, 7*24*3600)
	case "PAYLOAD_BUFFER_SIZE":
		c.PayloadBufferSize, err = parseInt(key, value, 1, 255)

	// LoRaWAN
	case "LORAWAN_BACKEND":
		c.LoRaWANBackend = strings.ToLower(value)
	case "LORAWAN_SERIAL_PORT":
		c.LoRaWANSerialPort = value
	case "LORAWAN_BAUD_RATE":
		c.LoRaWANBaudRate, err = parseInt(key, value, 1, 4000000)
	case "LORAWAN_DEVADDR":
		c.LoRaWANDevAddr = value
	case "LORAWAN_NWKSKEY":
		c.LoRaWANNwkSKey = value
	case "LORAWAN_APPSKEY":
		c.LoRaWANAppSKey = value
	case "LORAWAN_DATARATE":
		c.LoRaWANDataRate, err = parseInt(key, value, 0, 15)
	case "LORAWAN_TX_PORT":
		c.LoRaWANTxPort, err = parseInt(key, value, 1, 223)
	case "LORAWAN_JOIN_RETRIES":
		c.LoRaWANJoinRetries, err = parseInt(key, value, 0, 100)
	case "LORAWAN_JOIN_BACKOFF_MS":
		c.LoRaWANJoinBackoff, err = parseInt(key, value, 0, 3600000)
	case "LORAWAN_SESSION_FILE":
		c.LoRaWANSessionFile = value
	case "LORAWAN_APP_ID":
		c.LoRaWANAppID = value
	case "LORAWAN_DEV_ID":
		c.LoRaWANDevID = value

	// Board
	case "GPIO_BACKEND":
		c.GPIOBackend = strings.ToLower(value)
	case "LED_PIN":
		c.LEDPin = value
	case "POWER_PIN":
		c.PowerPin = value

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_TRACKER":
		c.MQTTClientIDTracker = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value
	case "MQTT_CLIENT_ID_PROXY":
		c.MQTTClientIDProxy = value

	// Topics
	case "TOPIC_STATUS":
		c.TopicStatus = value
	case "TOPIC_UPLINK_PREFIX":
		c.TopicUplinkPrefix = value

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value, 1, 65535)
	case "WEB_STATIC_DIR":
		c.WebStaticDir = value

	// Display
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value
	case "DISPLAY_UPDATE_INTERVAL":
		c.DisplayUpdateInterval, err = parseInt(key, value, 50, 60000)

	// Uplink proxy
	case "PROXY_DATASTREAMS_FILE":
		c.ProxyDatastreamsFile = value
	case "PROXY_COORD_SCALE":
		c.ProxyCoordScale, err = parseFloat(key, value)
	case "PROXY_LOG_PATTERN":
		c.ProxyLogPattern = value
	case "PROXY_TOKEN_URL":
		c.ProxyTokenURL = value
	case "PROXY_CLIENT_ID":
		c.ProxyClientID = value
	case "PROXY_CLIENT_SECRET":
		c.ProxyClientSecret = value
	case "PROXY_USERNAME":
		c.ProxyUsername = value
	case "PROXY_PASSWORD":
		c.ProxyPassword = value
	case "PROXY_REFRESH_TOKEN_FILE":
		c.ProxyRefreshTokenFile = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// validate checks enumerations and the fields every binary needs.
// Binary-specific requirements (ABP keys, proxy endpoints) are checked
// where they are used.
func (c *Config) validate() error {
	switch c.LogLevel {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("LOG_LEVEL must be DEBUG, INFO, WARN or ERROR, got %q", c.LogLevel)
	}
	switch c.GPSSource {
	case GPSSourceNMEA, GPSSourceSim:
	default:
		return fmt.Errorf("GPS_SOURCE must be %q or %q, got %q", GPSSourceNMEA, GPSSourceSim, c.GPSSource)
	}
	switch c.LoRaWANBackend {
	case LoRaWANBackendModem, LoRaWANBackendMQTT:
	default:
		return fmt.Errorf("LORAWAN_BACKEND must be %q or %q, got %q", LoRaWANBackendModem, LoRaWANBackendMQTT, c.LoRaWANBackend)
	}
	switch c.GPIOBackend {
	case GPIOBackendPeriph, GPIOBackendGPIOCdev:
	default:
		return fmt.Errorf("GPIO_BACKEND must be %q or %q, got %q", GPIOBackendPeriph, GPIOBackendGPIOCdev, c.GPIOBackend)
	}
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.TopicStatus == "" {
		return fmt.Errorf("TOPIC_STATUS is required")
	}
	if c.GPSSource == GPSSourceNMEA && c.GPSSerialPort == "" {
		return fmt.Errorf("GPS_SERIAL_PORT is required")
	}
	if c.LoRaWANBackend == LoRaWANBackendModem && c.LoRaWANSerialPort == "" {
		return fmt.Errorf("LORAWAN_SERIAL_PORT is required")
	}
	if c.ProxyCoordScale <= 0 {
		return fmt.Errorf("PROXY_COORD_SCALE must be positive")
	}
	return nil
}

// SleepTime is the pause after every completed acquisition cycle.
func (c *Config) SleepTime() time.Duration {
	return time.Duration(c.AppSleepTimeS) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.GPSPollIntervalMS) * time.Millisecond
}

func (c *Config) GPSReadTimeout() time.Duration {
	return time.Duration(c.GPSReadTimeoutMS) * time.Millisecond
}

func (c *Config) JoinBackoff() time.Duration {
	return time.Duration(c.LoRaWANJoinBackoff) * time.Millisecond
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
