// Command nodetool inspects and resets a node's persisted state.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"cloudpico-node/internal/clock"
	"cloudpico-node/internal/config"
	"cloudpico-node/internal/db"
	"cloudpico-node/internal/identity"
	"cloudpico-node/internal/logging"
	"cloudpico-node/internal/migrate"
	"cloudpico-node/internal/recordlog"
	"cloudpico-node/internal/schedule"
)

var version = "dev"
var appName = "cloudpico-nodetool"

const usage = `usage: %s <command>
  migrate  apply pending record log migrations (sqlite backend)
  inspect  print schedule state, identity and logged records
  reset    erase RTC memory, the clock offset and the record log
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg, version, appName)

	switch os.Args[1] {
	case "migrate":
		err = runMigrate(cfg, logger)
	case "inspect":
		err = runInspect(os.Stdout, cfg, logger)
	case "reset":
		err = runReset(cfg, logger)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func runMigrate(cfg config.Config, logger *slog.Logger) error {
	conn, err := db.Open(cfg.SQLitePath, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(conn); closeErr != nil {
			logger.Error("db close", "err", closeErr)
		}
	}()

	n, err := migrate.Run(conn)
	if err != nil {
		return err
	}
	fmt.Printf("migrations applied: %d\n", n)
	return nil
}

func runInspect(w io.Writer, cfg config.Config, logger *slog.Logger) error {
	st := schedule.NewStore(schedule.FileMemory{Path: cfg.RTCMemoryPath}, logger).Load()
	now := clock.NewService(clock.OpenHostRTC(cfg.RTCOffsetPath), logger).Now()

	fmt.Fprintf(w, "clock:          %s (%d)\n", clock.FormatISO(now), now)
	if st.Established() {
		fmt.Fprintf(w, "last_log:       %s\n", clock.FormatISO(st.LastLog))
		fmt.Fprintf(w, "period:         %ds\n", st.Period)
		fmt.Fprintf(w, "last_advertise: %s\n", clock.FormatISO(st.LastAdvertise))
		fmt.Fprintf(w, "next_log:       %s\n", clock.FormatISO(st.NextLog()))
	} else {
		fmt.Fprintln(w, "schedule:       unestablished")
	}

	id := identity.NewStore(cfg.IdentityDir, logger).Load(cfg.DeviceName)
	fmt.Fprintf(w, "name:           %s\n", id.Name)
	fmt.Fprintf(w, "registered_mac: %s\n", id.RegisteredMAC)

	records, err := openRecords(cfg, logger)
	if err != nil {
		return err
	}
	defer records.Close()

	all, err := records.ReadAll()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "records:        %d (%s)\n", len(all), cfg.RecordLogBackend)
	for _, r := range all {
		fmt.Fprintf(w, "  %s  %6.2f C  %6.2f %%\n", clock.FormatISO(r.Timestamp.Unix()), r.Temperature, r.Humidity)
	}
	return nil
}

func runReset(cfg config.Config, logger *slog.Logger) error {
	if err := (schedule.FileMemory{Path: cfg.RTCMemoryPath}).Erase(); err != nil {
		return fmt.Errorf("erase rtc memory: %w", err)
	}
	if err := clock.OpenHostRTC(cfg.RTCOffsetPath).Reset(); err != nil {
		return fmt.Errorf("reset clock: %w", err)
	}

	records, err := openRecords(cfg, logger)
	if err != nil {
		return err
	}
	defer records.Close()
	if err := records.Clear(); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	fmt.Println("node state reset")
	return nil
}

func openRecords(cfg config.Config, logger *slog.Logger) (recordlog.Log, error) {
	path := cfg.RecordLogPath
	if cfg.RecordLogBackend == "sqlite" {
		path = cfg.SQLitePath
	}
	return recordlog.Open(cfg.RecordLogBackend, path, logger)
}
