package config

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

var envKeys = []string{
	"APP_ENV", "LOG_LEVEL", "STATE_DIR", "RTC_MEMORY_PATH", "RTC_OFFSET_PATH",
	"RECORD_LOG_BACKEND", "RECORD_LOG_PATH", "SQLITE_PATH", "DEVICE_NAME", "BLE_ADAPTER",
	"ADV_INTERVAL", "ADVERTISE_POLICY", "ADVERTISE_INTERVAL", "ADVERTISE_WINDOW",
	"DEEP_SLEEP_CEILING", "SLEEP_MODE", "CHUNK_SIZE", "CHUNK_DELAY", "MAX_WRITE_LEN",
	"MAX_NOTIFY_LEN", "POLL_INTERVAL", "CLEAR_POLICY", "ACK_TIMEOUT", "SENSOR_DRIVER",
	"I2C_BUS", "BME280_ADDRESS", "MQTT_BROKER", "MQTT_PORT", "MQTT_CLIENT_ID",
	"DEVICE_STATION_ID",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("STATE_DIR", dir)

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v, want nil", err)
	}

	if got.AppEnv != "dev" {
		t.Errorf("AppEnv = %q, want %q", got.AppEnv, "dev")
	}
	if got.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", got.LogLevel, slog.LevelInfo)
	}
	if got.RTCMemoryPath != filepath.Join(dir, "rtc.mem") {
		t.Errorf("RTCMemoryPath = %q", got.RTCMemoryPath)
	}
	if got.RecordLogPath != filepath.Join(dir, "data.csv") {
		t.Errorf("RecordLogPath = %q", got.RecordLogPath)
	}
	if got.AdvertisePolicy != AdvertisePolicyInterval {
		t.Errorf("AdvertisePolicy = %q, want %q", got.AdvertisePolicy, AdvertisePolicyInterval)
	}
	if got.AdvertiseInterval != 30*time.Minute {
		t.Errorf("AdvertiseInterval = %v, want 30m", got.AdvertiseInterval)
	}
	if got.AdvertiseWindow != 60*time.Second {
		t.Errorf("AdvertiseWindow = %v, want 60s", got.AdvertiseWindow)
	}
	if got.DeepSleepCeiling != 30*time.Minute {
		t.Errorf("DeepSleepCeiling = %v, want 30m", got.DeepSleepCeiling)
	}
	if got.ChunkSize != 5 || got.MaxWriteLen != 64 || got.MaxNotifyLen != 244 {
		t.Errorf("chunking = %d/%d/%d, want 5/64/244", got.ChunkSize, got.MaxWriteLen, got.MaxNotifyLen)
	}
	if got.ChunkDelay != 300*time.Millisecond {
		t.Errorf("ChunkDelay = %v, want 300ms", got.ChunkDelay)
	}
	if got.ClearPolicy != ClearOnSend {
		t.Errorf("ClearPolicy = %q, want %q", got.ClearPolicy, ClearOnSend)
	}
	if got.SleepMode != SleepModeExit {
		t.Errorf("SleepMode = %q, want %q", got.SleepMode, SleepModeExit)
	}
	if got.BME280Address != 0x76 {
		t.Errorf("BME280Address = %#x, want 0x76", got.BME280Address)
	}
	if got.MQTTBroker != "" {
		t.Errorf("MQTTBroker = %q, want empty (uplink disabled)", got.MQTTBroker)
	}
}

func TestLoadFromEnv_AppEnv_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		appEnv string
	}{
		{name: "staging", appEnv: "staging"},
		{name: "uppercase invalid", appEnv: "DEV"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("APP_ENV", tt.appEnv)

			_, err := LoadFromEnv()
			if err == nil {
				t.Fatalf("LoadFromEnv() error = nil, want non-nil")
			}
		})
	}
}

func TestLoadFromEnv_Enums(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr bool
	}{
		{name: "gapfill policy", key: "ADVERTISE_POLICY", value: "gapfill"},
		{name: "unknown policy", key: "ADVERTISE_POLICY", value: "always", wantErr: true},
		{name: "ack clear", key: "CLEAR_POLICY", value: "ack"},
		{name: "unknown clear", key: "CLEAR_POLICY", value: "never", wantErr: true},
		{name: "sqlite backend", key: "RECORD_LOG_BACKEND", value: "sqlite"},
		{name: "unknown backend", key: "RECORD_LOG_BACKEND", value: "flash", wantErr: true},
		{name: "simulate sleep", key: "SLEEP_MODE", value: "simulate"},
		{name: "unknown sleep", key: "SLEEP_MODE", value: "hibernate", wantErr: true},
		{name: "simulated sensor", key: "SENSOR_DRIVER", value: "simulated"},
		{name: "unknown sensor", key: "SENSOR_DRIVER", value: "dht22", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("STATE_DIR", t.TempDir())
			t.Setenv(tt.key, tt.value)

			_, err := LoadFromEnv()
			if tt.wantErr && err == nil {
				t.Fatalf("LoadFromEnv() error = nil, want non-nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("LoadFromEnv() error = %v, want nil", err)
			}
		})
	}
}

func TestLoadFromEnv_Numbers(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "zero chunk size", key: "CHUNK_SIZE", value: "0"},
		{name: "garbage chunk size", key: "CHUNK_SIZE", value: "five"},
		{name: "negative window", key: "ADVERTISE_WINDOW", value: "-1s"},
		{name: "garbage delay", key: "CHUNK_DELAY", value: "soon"},
		{name: "ceiling too small", key: "DEEP_SLEEP_CEILING", value: "500ms"},
		{name: "bad i2c address", key: "BME280_ADDRESS", value: "0xZZ"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			if _, err := LoadFromEnv(); err == nil {
				t.Fatalf("LoadFromEnv() error = nil, want non-nil for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestParseLogLevel_Valid(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want slog.Level
	}{
		{name: "debug", in: "debug", want: slog.LevelDebug},
		{name: "warning", in: "warning", want: slog.LevelWarn},
		{name: "case insensitive", in: "DeBuG", want: slog.LevelDebug},
		{name: "trims whitespace", in: "  warn \n", want: slog.LevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseLogLevel(tt.in)
			if err != nil {
				t.Fatalf("parseLogLevel(%q) error = %v, want nil", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseLogLevel_Invalid(t *testing.T) {
	got, err := parseLogLevel("loud")
	if err == nil {
		t.Fatalf("parseLogLevel(loud) error = nil, want non-nil")
	}
	if got != slog.LevelInfo {
		t.Errorf("parseLogLevel(loud) = %v, want %v on error", got, slog.LevelInfo)
	}
}
