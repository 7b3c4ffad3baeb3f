package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Advertise policies. Exactly one is active per device.
const (
	AdvertisePolicyInterval = "interval"
	AdvertisePolicyGapFill  = "gapfill"
)

// Record log clear policies.
const (
	ClearOnSend = "send"
	ClearOnAck  = "ack"
)

// Sleep modes.
const (
	SleepModeExit     = "exit"
	SleepModeSimulate = "simulate"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level

	// StateDir holds every file that stands in for battery-backed or flash storage.
	StateDir         string
	RTCMemoryPath    string
	RTCOffsetPath    string
	IdentityDir      string
	RecordLogBackend string
	RecordLogPath    string
	SQLitePath       string

	DeviceName string
	BLEAdapter string

	AdvInterval       time.Duration
	AdvertisePolicy   string
	AdvertiseInterval time.Duration
	AdvertiseWindow   time.Duration
	DeepSleepCeiling  time.Duration
	SleepMode         string

	ChunkSize    int
	ChunkDelay   time.Duration
	MaxWriteLen  int
	MaxNotifyLen int
	PollInterval time.Duration
	ClearPolicy  string
	AckTimeout   time.Duration

	SensorDriver  string
	I2CBus        string
	BME280Address uint16

	MQTTBroker      string
	MQTTPort        int
	MQTTClientID    string
	DeviceStationID string
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	stateDir := envString("STATE_DIR", "state")
	stateDir, err = filepath.Abs(stateDir)
	if err != nil {
		return Config{}, fmt.Errorf("STATE_DIR %q: %w", stateDir, err)
	}

	backend := envString("RECORD_LOG_BACKEND", "csv")
	switch backend {
	case "csv", "sqlite":
	default:
		return Config{}, fmt.Errorf("invalid RECORD_LOG_BACKEND %q (allowed: csv, sqlite)", backend)
	}

	policy := envString("ADVERTISE_POLICY", AdvertisePolicyInterval)
	switch policy {
	case AdvertisePolicyInterval, AdvertisePolicyGapFill:
	default:
		return Config{}, fmt.Errorf("invalid ADVERTISE_POLICY %q (allowed: interval, gapfill)", policy)
	}

	clearPolicy := envString("CLEAR_POLICY", ClearOnSend)
	switch clearPolicy {
	case ClearOnSend, ClearOnAck:
	default:
		return Config{}, fmt.Errorf("invalid CLEAR_POLICY %q (allowed: send, ack)", clearPolicy)
	}

	sleepMode := envString("SLEEP_MODE", SleepModeExit)
	switch sleepMode {
	case SleepModeExit, SleepModeSimulate:
	default:
		return Config{}, fmt.Errorf("invalid SLEEP_MODE %q (allowed: exit, simulate)", sleepMode)
	}

	sensorDriver := envString("SENSOR_DRIVER", "bme280")
	switch sensorDriver {
	case "bme280", "bmxx80", "simulated":
	default:
		return Config{}, fmt.Errorf("invalid SENSOR_DRIVER %q (allowed: bme280, bmxx80, simulated)", sensorDriver)
	}

	bme280AddressStr := envString("BME280_ADDRESS", "0x76")
	bme280Address, err := strconv.ParseUint(bme280AddressStr, 0, 16)
	if err != nil {
		return Config{}, fmt.Errorf("invalid BME280_ADDRESS %q: %w", bme280AddressStr, err)
	}

	advInterval, err := envDuration("ADV_INTERVAL", "250ms")
	if err != nil {
		return Config{}, err
	}
	advertiseInterval, err := envDuration("ADVERTISE_INTERVAL", "30m")
	if err != nil {
		return Config{}, err
	}
	advertiseWindow, err := envDuration("ADVERTISE_WINDOW", "60s")
	if err != nil {
		return Config{}, err
	}
	ceiling, err := envDuration("DEEP_SLEEP_CEILING", "30m")
	if err != nil {
		return Config{}, err
	}
	chunkDelay, err := envDuration("CHUNK_DELAY", "300ms")
	if err != nil {
		return Config{}, err
	}
	pollInterval, err := envDuration("POLL_INTERVAL", "1s")
	if err != nil {
		return Config{}, err
	}
	ackTimeout, err := envDuration("ACK_TIMEOUT", "10s")
	if err != nil {
		return Config{}, err
	}
	if ceiling < time.Second {
		return Config{}, fmt.Errorf("DEEP_SLEEP_CEILING must be at least 1s, got %v", ceiling)
	}

	chunkSize, err := envInt("CHUNK_SIZE", "5")
	if err != nil {
		return Config{}, err
	}
	maxWriteLen, err := envInt("MAX_WRITE_LEN", "64")
	if err != nil {
		return Config{}, err
	}
	maxNotifyLen, err := envInt("MAX_NOTIFY_LEN", "244")
	if err != nil {
		return Config{}, err
	}

	mqttPort, err := envInt("MQTT_PORT", "1883")
	if err != nil {
		return Config{}, err
	}

	return Config{
		AppEnv:            appEnv,
		LogLevel:          level,
		StateDir:          stateDir,
		RTCMemoryPath:     envString("RTC_MEMORY_PATH", filepath.Join(stateDir, "rtc.mem")),
		RTCOffsetPath:     envString("RTC_OFFSET_PATH", filepath.Join(stateDir, "rtc.offset")),
		IdentityDir:       stateDir,
		RecordLogBackend:  backend,
		RecordLogPath:     envString("RECORD_LOG_PATH", filepath.Join(stateDir, "data.csv")),
		SQLitePath:        envString("SQLITE_PATH", filepath.Join(stateDir, "records.db")),
		DeviceName:        strings.TrimSpace(os.Getenv("DEVICE_NAME")),
		BLEAdapter:        envString("BLE_ADAPTER", "hci0"),
		AdvInterval:       advInterval,
		AdvertisePolicy:   policy,
		AdvertiseInterval: advertiseInterval,
		AdvertiseWindow:   advertiseWindow,
		DeepSleepCeiling:  ceiling,
		SleepMode:         sleepMode,
		ChunkSize:         chunkSize,
		ChunkDelay:        chunkDelay,
		MaxWriteLen:       maxWriteLen,
		MaxNotifyLen:      maxNotifyLen,
		PollInterval:      pollInterval,
		ClearPolicy:       clearPolicy,
		AckTimeout:        ackTimeout,
		SensorDriver:      sensorDriver,
		I2CBus:            strings.TrimSpace(os.Getenv("I2C_BUS")),
		BME280Address:     uint16(bme280Address),
		MQTTBroker:        strings.TrimSpace(os.Getenv("MQTT_BROKER")),
		MQTTPort:          mqttPort,
		MQTTClientID:      envString("MQTT_CLIENT_ID", "cloudpico-node"),
		DeviceStationID:   envString("DEVICE_STATION_ID", "outdoor"),
	}, nil
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

// envDuration parses a strictly positive duration.
func envDuration(key, def string) (time.Duration, error) {
	s := envString(key, def)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", key, d)
	}
	return d, nil
}

// envInt parses a strictly positive integer.
func envInt(key, def string) (int, error) {
	s := envString(key, def)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, n)
	}
	return n, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
