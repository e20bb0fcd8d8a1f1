// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package settings provides the controller's key/value settings backed by SQLite.
//
// Values live in two namespaces: "local" for the power manager's own keys and
// "global" for host-wide slots such as the shutdown command. Reads are served
// from memory; Set only stages a change and Save writes all staged changes in
// one transaction.
package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/soothill/printer-power-manager/pkg/errors"
	"github.com/soothill/printer-power-manager/pkg/interfaces"
	"github.com/soothill/printer-power-manager/pkg/logger"
)

const (
	namespaceLocal  = "local"
	namespaceGlobal = "global"

	// MemoryPath opens a private in-memory database.
	MemoryPath = ":memory:"
)

// Defaults are returned for keys that have never been set.
type Defaults struct {
	Local  map[string]any
	Global map[string]any
}

// DefaultValues returns the stock power manager defaults.
func DefaultValues() Defaults {
	return Defaults{
		Local: map[string]any{
			interfaces.SettingPowerManagementEnabled: true,
			interfaces.SettingTimeoutMinutes:         15,
			interfaces.SettingPowerdownCommand:       "gpio write 7 0",
			interfaces.SettingPowerupCommand:         "gpio write 7 1",
		},
		Global: map[string]any{},
	}
}

type entryKey struct {
	namespace string
	key       string
}

// Store is a SQLite-backed SettingsStore.
type Store struct {
	db  *sql.DB
	log zerolog.Logger

	mu       sync.RWMutex
	values   map[entryKey]any
	dirty    map[entryKey]struct{}
	defaults Defaults
}

// Open opens or creates the settings database at path and loads all values.
func Open(path string, defaults Defaults) (*Store, error) {
	log := logger.Component("settings")

	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, errors.NewSettingsError("open", "", fmt.Errorf("create database directory: %w", err))
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)"
	if path != MemoryPath {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.NewSettingsError("open", "", err)
	}
	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.NewSettingsError("open", "", fmt.Errorf("ping database: %w", err))
	}

	s := &Store{
		db:       db,
		log:      log,
		values:   make(map[entryKey]any),
		dirty:    make(map[entryKey]struct{}),
		defaults: defaults,
	}
	if s.defaults.Local == nil {
		s.defaults.Local = map[string]any{}
	}
	if s.defaults.Global == nil {
		s.defaults.Global = map[string]any{}
	}

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, errors.NewSettingsError("init schema", "", err)
	}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, errors.NewSettingsError("load", "", err)
	}

	log.Info().Str("path", path).Int("values", len(s.values)).Msg("Settings loaded")
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS settings (
			namespace  TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (namespace, key)
		)`)
	return err
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT namespace, key, value FROM settings`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var ns, key, raw string
		if err := rows.Scan(&ns, &key, &raw); err != nil {
			return err
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Skipping undecodable setting")
			continue
		}
		s.values[entryKey{ns, key}] = v
	}
	return rows.Err()
}

// Close releases the database connection. Unsaved changes are discarded.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) get(ns, key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[entryKey{ns, key}]; ok {
		return v, true
	}
	defaults := s.defaults.Local
	if ns == namespaceGlobal {
		defaults = s.defaults.Global
	}
	v, ok := defaults[key]
	return v, ok
}

func (s *Store) set(ns, key string, value any) error {
	if _, err := json.Marshal(value); err != nil {
		return errors.NewSettingsError("set", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := entryKey{ns, key}
	s.values[k] = value
	s.dirty[k] = struct{}{}
	return nil
}

// Lookup returns the local value for key, or errors.ErrSettingNotFound.
func (s *Store) Lookup(key string) (any, error) {
	v, ok := s.get(namespaceLocal, key)
	if !ok {
		return nil, errors.NewSettingsError("get", key, errors.ErrSettingNotFound)
	}
	return v, nil
}

// GetInt returns a local integer setting. Numeric strings are accepted.
func (s *Store) GetInt(key string) int {
	v, _ := s.get(namespaceLocal, key)
	return toInt(v)
}

// GetString returns a local string setting.
func (s *Store) GetString(key string) string {
	v, _ := s.get(namespaceLocal, key)
	return toString(v)
}

// GetBool returns a local boolean setting. "true"/"false" strings are accepted.
func (s *Store) GetBool(key string) bool {
	v, _ := s.get(namespaceLocal, key)
	return toBool(v)
}

// Set stages a local setting.
func (s *Store) Set(key string, value any) error {
	return s.set(namespaceLocal, key, value)
}

// GlobalGetString returns a global string setting.
func (s *Store) GlobalGetString(key string) string {
	v, _ := s.get(namespaceGlobal, key)
	return toString(v)
}

// GlobalSet stages a global setting.
func (s *Store) GlobalSet(key string, value any) error {
	return s.set(namespaceGlobal, key, value)
}

// Save writes all staged changes in one transaction.
func (s *Store) Save() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.dirty) == 0 {
		return nil
	}

	err := s.tx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO settings (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := time.Now().Unix()
		for k := range s.dirty {
			raw, err := json.Marshal(s.values[k])
			if err != nil {
				return fmt.Errorf("encode %s: %w", k.key, err)
			}
			if _, err := stmt.ExecContext(ctx, k.namespace, k.key, string(raw), now); err != nil {
				return fmt.Errorf("write %s: %w", k.key, err)
			}
		}
		return nil
	})
	if err != nil {
		return errors.NewSettingsError("save", "", err)
	}

	s.log.Info().Int("changed", len(s.dirty)).Msg("Settings saved")
	s.dirty = make(map[entryKey]struct{})
	return nil
}

func (s *Store) tx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Snapshot returns the local settings, defaults included.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.defaults.Local))
	for k, v := range s.defaults.Local {
		out[k] = v
	}
	for k, v := range s.values {
		if k.namespace == namespaceLocal {
			out[k.key] = v
		}
	}
	return out
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

func toBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return err == nil && parsed
	default:
		return false
	}
}

var _ interfaces.SettingsStore = (*Store)(nil)
