package recordlog

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"cloudpico-node/internal/db"
	"cloudpico-node/internal/migrate"
)

// SQLiteLog keeps records in a SQLite table. Clear deletes the rows and keeps
// the schema, the counterpart of the CSV header.
type SQLiteLog struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens path and applies pending migrations.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteLog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := db.Open(path, logger)
	if err != nil {
		return nil, err
	}
	n, err := migrate.Run(conn)
	if err != nil {
		_ = db.Close(conn)
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if n > 0 {
		logger.Info("record log migrated", "path", path, "applied", n)
	}
	return &SQLiteLog{db: conn, logger: logger}, nil
}

func (l *SQLiteLog) Append(r Record) error {
	_, err := l.db.Exec(
		`INSERT INTO records (ts, temperature_c, humidity_pct) VALUES (?, ?, ?)`,
		r.Timestamp.Unix(), float64(r.Temperature), float64(r.Humidity),
	)
	if err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

func (l *SQLiteLog) ReadAll() ([]Record, error) {
	rows, err := l.db.Query(`SELECT ts, temperature_c, humidity_pct FROM records ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			l.logger.Error("close records rows", "error", err)
		}
	}()

	var out []Record
	for rows.Next() {
		var (
			ts        int64
			temp, hum float64
		)
		if err := rows.Scan(&ts, &temp, &hum); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, Record{
			Timestamp:   time.Unix(ts, 0).UTC(),
			Temperature: float32(temp),
			Humidity:    float32(hum),
		})
	}
	return out, rows.Err()
}

func (l *SQLiteLog) Clear() error {
	res, err := l.db.Exec(`DELETE FROM records`)
	if err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	n, _ := res.RowsAffected()
	l.logger.Info("record log cleared", "rows", n)
	return nil
}

func (l *SQLiteLog) Close() error {
	return db.Close(l.db)
}
