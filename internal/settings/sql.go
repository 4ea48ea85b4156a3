// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package settings

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	_ "modernc.org/sqlite"
)

// SQLStore keeps settings as key/value rows in the `tachometer_settings`
// table, which is created on first use.
type SQLStore struct {
	driver string
	dsn    string
	db     *sql.DB
}

// NewSQLStore creates a new SQLStore. The "sqlite" driver is registered
// by this package.
func NewSQLStore(driver, dsn string) *SQLStore {
	return &SQLStore{
		driver: driver,
		dsn:    dsn,
	}
}

func (s *SQLStore) open() error {
	if s.db != nil {
		return nil
	}
	db, err := sql.Open(s.driver, s.dsn)
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return fmt.Errorf("failed to init schema: %w", err)
	}
	s.db = db
	return nil
}

func initSchema(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS tachometer_settings (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := db.Exec(query)
	return err
}

// Load reads every known key. Unknown keys and unparsable values are
// skipped; an empty table yields Defaults.
func (s *SQLStore) Load() (Settings, error) {
	if err := s.open(); err != nil {
		return Settings{}, err
	}

	rows, err := s.db.Query("SELECT name, value FROM tachometer_settings")
	if err != nil {
		return Settings{}, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	var st Settings
	found := false
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			continue
		}
		found = true
		if err := st.set(key, value); err != nil {
			slog.Warn("Ignoring stored setting", "key", key, "err", err)
		}
	}
	if err := rows.Err(); err != nil {
		return Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}
	if !found {
		return Defaults(), nil
	}
	return st.Normalize(), nil
}

func (st *Settings) set(key, value string) error {
	parse := func(bits int) (uint64, error) {
		return strconv.ParseUint(value, 10, bits)
	}
	var n uint64
	var err error
	switch key {
	case "ppr":
		n, err = parse(32)
		st.PPR = uint32(n)
	case "diameter_mm":
		n, err = parse(32)
		st.DiameterMM = uint32(n)
	case "timeout_s":
		n, err = parse(32)
		st.TimeoutSeconds = uint32(n)
	case "averaging_window":
		n, err = parse(8)
		st.AveragingWindow = uint8(n)
	case "speed_unit":
		n, err = parse(8)
		st.SpeedUnit = uint8(n)
	case "unit_id":
		n, err = parse(8)
		st.UnitID = uint8(n)
	case "modbus_enabled":
		st.ModbusEnabled, err = strconv.ParseBool(value)
	case "hysteresis":
		err = json.Unmarshal([]byte(value), &st.Hysteresis)
	default:
		return fmt.Errorf("unknown key")
	}
	return err
}

// Save upserts every key in one transaction.
func (s *SQLStore) Save(st Settings) error {
	if err := s.open(); err != nil {
		return err
	}

	hyst, err := json.Marshal(st.Hysteresis)
	if err != nil {
		return fmt.Errorf("failed to encode hysteresis table: %w", err)
	}
	values := [][2]string{
		{"ppr", strconv.FormatUint(uint64(st.PPR), 10)},
		{"diameter_mm", strconv.FormatUint(uint64(st.DiameterMM), 10)},
		{"timeout_s", strconv.FormatUint(uint64(st.TimeoutSeconds), 10)},
		{"averaging_window", strconv.FormatUint(uint64(st.AveragingWindow), 10)},
		{"speed_unit", strconv.FormatUint(uint64(st.SpeedUnit), 10)},
		{"unit_id", strconv.FormatUint(uint64(st.UnitID), 10)},
		{"modbus_enabled", strconv.FormatBool(st.ModbusEnabled)},
		{"hysteresis", string(hyst)},
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	query := "INSERT INTO tachometer_settings (name, value) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET value=excluded.value"
	for _, kv := range values {
		if _, err := tx.Exec(query, kv[0], kv[1]); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to persist %s: %w", kv[0], err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}
