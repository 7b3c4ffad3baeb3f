// Package app wires the node's collaborators from configuration and runs
// boot cycles until the node sleeps.
package app

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloudpico-node/internal/ble"
	"cloudpico-node/internal/clock"
	"cloudpico-node/internal/config"
	"cloudpico-node/internal/identity"
	"cloudpico-node/internal/power"
	"cloudpico-node/internal/recordlog"
	"cloudpico-node/internal/schedule"
	"cloudpico-node/internal/scheduler"
	"cloudpico-node/internal/sensor"
	"cloudpico-node/internal/uplink"
)

const uplinkConnectTimeout = 5 * time.Second

// machineIDPath holds the UID the default device name is derived from.
var machineIDPath = "/etc/machine-id"

func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("initializing node",
		"state_dir", cfg.StateDir,
		"record_log", cfg.RecordLogBackend,
		"sensor", cfg.SensorDriver,
		"advertise_policy", cfg.AdvertisePolicy,
		"sleep_mode", cfg.SleepMode,
	)

	store := schedule.NewStore(schedule.FileMemory{Path: cfg.RTCMemoryPath}, logger)
	clk := clock.NewService(clock.OpenHostRTC(cfg.RTCOffsetPath), logger)

	sleeper, err := power.New(cfg.SleepMode, filepath.Join(cfg.StateDir, "wake.at"), logger)
	if err != nil {
		return err
	}

	records, err := openRecords(cfg, logger)
	if err != nil {
		// Without a log no cycle can run; sleep so the next wake retries.
		logger.Error("record log unavailable", "error", err, "sleep", cfg.DeepSleepCeiling)
		if serr := sleeper.DeepSleep(ctx, cfg.DeepSleepCeiling); serr != nil {
			return errors.Join(err, serr)
		}
		return err
	}
	defer records.Close()

	ids := identity.NewStore(cfg.IdentityDir, logger)
	id := ids.Load(defaultName(cfg, logger))
	logger.Info("identity loaded", "name", id.Name, "registered_mac", id.RegisteredMAC)

	var sens sensor.Sensor
	sens, err = sensor.Open(cfg.SensorDriver, cfg.I2CBus, cfg.BME280Address, logger)
	if err != nil {
		// Every cycle still runs; reads report the fault.
		logger.Error("sensor unavailable", "driver", cfg.SensorDriver, "error", err)
		sens = sensor.Unavailable{Err: err}
	}
	defer sens.Close()

	policy, err := schedule.PolicyByName(cfg.AdvertisePolicy, cfg.AdvertiseInterval)
	if err != nil {
		return err
	}

	protocol := ble.NewProtocol(ble.Deps{
		Schedule:   store,
		Clock:      clk,
		Records:    records,
		Identities: ids,
		Identity:   id,
	}, ble.Options{
		ChunkSize:    cfg.ChunkSize,
		ChunkDelay:   cfg.ChunkDelay,
		MaxWriteLen:  cfg.MaxWriteLen,
		MaxNotifyLen: cfg.MaxNotifyLen,
		PollInterval: cfg.PollInterval,
		ClearPolicy:  cfg.ClearPolicy,
		AckTimeout:   cfg.AckTimeout,
	}, logger)

	gatt := ble.NewGATT(ble.GATTOptions{
		Adapter:   cfg.BLEAdapter,
		LocalName: id.Name,
		Interval:  cfg.AdvInterval,
	}, logger)
	advertiser := ble.NewAdvertiser(gatt, protocol, logger)

	var mirror scheduler.Mirror
	var up *uplink.Client
	if cfg.MQTTBroker != "" {
		up = connectUplink(ctx, cfg, logger)
		if up != nil {
			defer up.Disconnect()
			mirror = up
		}
	}

	sched := scheduler.New(scheduler.Deps{
		Schedule:   store,
		Clock:      clk,
		Records:    records,
		Sensor:     sens,
		Advertiser: advertiser,
		Policy:     policy,
		Mirror:     mirror,
	}, scheduler.Options{
		AdvertiseWindow:  cfg.AdvertiseWindow,
		DeepSleepCeiling: cfg.DeepSleepCeiling,
	}, logger)

	for {
		res := sched.RunCycle(ctx)

		if up != nil {
			publishHealth(ctx, up, records, logger)
		}

		if err := sleeper.DeepSleep(ctx, res.Sleep); err != nil {
			return err
		}
		if !sleeper.Resumes() {
			return nil
		}
	}
}

func openRecords(cfg config.Config, logger *slog.Logger) (recordlog.Log, error) {
	path := cfg.RecordLogPath
	if cfg.RecordLogBackend == "sqlite" {
		path = cfg.SQLitePath
	}
	records, err := recordlog.Open(cfg.RecordLogBackend, path, logger)
	if err != nil {
		return nil, fmt.Errorf("open record log: %w", err)
	}
	return records, nil
}

// defaultName is DEVICE_NAME if set, else derived from the machine UID.
func defaultName(cfg config.Config, logger *slog.Logger) string {
	if cfg.DeviceName != "" {
		return cfg.DeviceName
	}
	return identity.DefaultName(machineUID(logger))
}

func machineUID(logger *slog.Logger) []byte {
	b, err := os.ReadFile(machineIDPath)
	if err == nil {
		if uid, err := hex.DecodeString(strings.TrimSpace(string(b))); err == nil && len(uid) > 0 {
			return uid
		}
	}
	host, herr := os.Hostname()
	if herr != nil {
		logger.Warn("no machine uid, using a fixed default", "error", herr)
		return []byte{0, 0}
	}
	return []byte(host)
}

func connectUplink(ctx context.Context, cfg config.Config, logger *slog.Logger) *uplink.Client {
	c := uplink.NewClient(cfg, logger)

	cctx, cancel := context.WithTimeout(ctx, uplinkConnectTimeout)
	defer cancel()
	if err := c.Connect(cctx); err != nil {
		logger.Warn("mqtt uplink unavailable this cycle", "broker", cfg.MQTTBroker, "error", err)
		c.Disconnect()
		return nil
	}
	return c
}

func publishHealth(ctx context.Context, up *uplink.Client, records recordlog.Log, logger *slog.Logger) {
	pending, err := records.ReadAll()
	if err != nil {
		logger.Warn("record log read failed", "error", err)
	}
	if err := up.PublishHealth(ctx, len(pending)); err != nil {
		logger.Warn("health publish failed", "error", err)
	}
}
