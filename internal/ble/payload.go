package ble

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"cloudpico-node/internal/clock"
	"cloudpico-node/internal/recordlog"
)

// Settings is a decoded write to the settings characteristic.
type Settings struct {
	Time          int64
	Period        uint32
	RegisteredMAC string
	Name          string
}

type settingsWire struct {
	Time          json.RawMessage `json:"time"`
	LatestTime    json.RawMessage `json:"latest_time"`
	Period        json.RawMessage `json:"period"`
	RegisteredMAC string          `json:"registered_mac"`
	Name          string          `json:"name"`
}

// DecodeSettings parses a settings write. Both time and period are required.
func DecodeSettings(b []byte, maxLen int) (Settings, error) {
	if err := checkWrite(b, maxLen); err != nil {
		return Settings{}, err
	}

	var w settingsWire
	if err := json.Unmarshal(b, &w); err != nil {
		return Settings{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	rawTime := w.Time
	if len(rawTime) == 0 {
		rawTime = w.LatestTime
	}
	if len(rawTime) == 0 {
		return Settings{}, fmt.Errorf("%w: missing time", ErrMalformedPayload)
	}
	if len(w.Period) == 0 {
		return Settings{}, fmt.Errorf("%w: missing period", ErrMalformedPayload)
	}

	epoch, err := clock.ParseWallClock(rawTime)
	if err != nil {
		return Settings{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	period, err := ParsePeriod(w.Period)
	if err != nil {
		return Settings{}, err
	}

	return Settings{
		Time:          epoch,
		Period:        period,
		RegisteredMAC: w.RegisteredMAC,
		Name:          w.Name,
	}, nil
}

// ParsePeriod accepts whole seconds or an "HH:MM:SS" string.
func ParsePeriod(raw json.RawMessage) (uint32, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("%w: period: %v", ErrMalformedPayload, err)
		}
		return parseClockPeriod(s)
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("%w: period: %v", ErrMalformedPayload, err)
	}
	v, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: period %q is not whole seconds", ErrMalformedPayload, n)
	}
	if v <= 0 || v > math.MaxUint32 {
		return 0, fmt.Errorf("%w: period %d out of range", ErrMalformedPayload, v)
	}
	return uint32(v), nil
}

func parseClockPeriod(s string) (uint32, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%w: period %q, want HH:MM:SS", ErrMalformedPayload, s)
	}
	var f [3]int64
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 32)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("%w: period %q, want HH:MM:SS", ErrMalformedPayload, s)
		}
		f[i] = v
	}
	if f[1] >= 60 || f[2] >= 60 {
		return 0, fmt.Errorf("%w: period %q out of range", ErrMalformedPayload, s)
	}
	total := f[0]*3600 + f[1]*60 + f[2]
	if total <= 0 || total > math.MaxUint32 {
		return 0, fmt.Errorf("%w: period %q out of range", ErrMalformedPayload, s)
	}
	return uint32(total), nil
}

// DataWrite is a decoded write to the data characteristic: either a transfer
// trigger, optionally carrying a time, or an acknowledgement of a transfer.
type DataWrite struct {
	Trigger bool
	HasTime bool
	Time    int64
	Ack     int
}

type dataWire struct {
	Timestamp json.RawMessage `json:"timestamp"`
	Time      json.RawMessage `json:"time"`
	Ack       *int            `json:"ack"`
}

func DecodeDataWrite(b []byte, maxLen int) (DataWrite, error) {
	if err := checkWrite(b, maxLen); err != nil {
		return DataWrite{}, err
	}

	var w dataWire
	if err := json.Unmarshal(b, &w); err != nil {
		return DataWrite{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if w.Ack != nil {
		if *w.Ack < 0 {
			return DataWrite{}, fmt.Errorf("%w: negative ack %d", ErrMalformedPayload, *w.Ack)
		}
		return DataWrite{Ack: *w.Ack}, nil
	}

	raw := w.Timestamp
	if len(raw) == 0 {
		raw = w.Time
	}
	if len(raw) == 0 {
		return DataWrite{Trigger: true}, nil
	}
	epoch, err := clock.ParseWallClock(raw)
	if err != nil {
		return DataWrite{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return DataWrite{Trigger: true, HasTime: true, Time: epoch}, nil
}

// checkWrite rejects writes that cannot be a JSON object within the buffer.
func checkWrite(b []byte, maxLen int) error {
	if maxLen > 0 && len(b) > maxLen {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrMalformedPayload, len(b), maxLen)
	}
	t := bytes.TrimSpace(b)
	if len(t) == 0 || t[0] != '{' {
		return fmt.Errorf("%w: not a JSON object", ErrMalformedPayload)
	}
	return nil
}

type batchWire struct {
	Data [][]json.Number `json:"data"`
}

// EncodeBatch renders records as {"data": [[epoch, temp, hum], ...]} with
// two decimals per reading. A nil or empty batch encodes as {"data":[]}.
func EncodeBatch(records []recordlog.Record) ([]byte, error) {
	w := batchWire{Data: make([][]json.Number, 0, len(records))}
	for _, r := range records {
		w.Data = append(w.Data, []json.Number{
			json.Number(strconv.FormatInt(r.Timestamp.Unix(), 10)),
			json.Number(strconv.FormatFloat(float64(r.Temperature), 'f', 2, 32)),
			json.Number(strconv.FormatFloat(float64(r.Humidity), 'f', 2, 32)),
		})
	}
	return json.Marshal(w)
}

// Chunk splits records into consecutive batches of at most size records,
// preserving order. No records yields no batches.
func Chunk(records []recordlog.Record, size int) [][]recordlog.Record {
	if size <= 0 {
		size = 1
	}
	var out [][]recordlog.Record
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		out = append(out, records[start:end])
	}
	return out
}
