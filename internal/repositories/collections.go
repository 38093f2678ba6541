package repositories

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/murmur/internal/shared"
)

// SchemaVersion is the document layout written by [CollectionStore.Save].
const SchemaVersion = 2

// Document is a collection as stored: its raw records and the version token read with them.
//
// Version 0 means the key did not exist.
type Document struct {
	Version int64
	Records []json.RawMessage
}

// Store is the persistence port used by the queue.
type Store interface {
	Load(key string) (Document, error)
	Save(key string, doc Document) (int64, error)
	Versions(keys ...string) (map[string]int64, error)
	Report(key string, err error)
}

// Reporter receives anomalies found in persisted data. The error wraps [shared.ErrMalformedData].
type Reporter func(key string, err error)

// CollectionStore persists named collections in the collections table.
type CollectionStore struct {
	db     *sql.DB
	report Reporter
}

// StoreOption configures a [CollectionStore].
type StoreOption func(*CollectionStore)

// WithReporter overrides where malformed data is reported.
func WithReporter(r Reporter) StoreOption {
	return func(s *CollectionStore) { s.report = r }
}

// WithLogger reports malformed data to l.
func WithLogger(l *log.Logger) StoreOption {
	return func(s *CollectionStore) {
		s.report = func(key string, err error) {
			l.Warn("discarding unreadable collection", "key", key, "error", err)
		}
	}
}

// NewCollectionStore creates a CollectionStore with the given database connection.
func NewCollectionStore(db *sql.DB, opts ...StoreOption) *CollectionStore {
	s := &CollectionStore{db: db}
	for _, opt := range opts {
		opt(s)
	}
	if s.report == nil {
		WithLogger(log.Default())(s)
	}
	return s
}

type document struct {
	SchemaVersion int               `json:"schemaVersion"`
	Records       []json.RawMessage `json:"records"`
}

// Load reads the collection stored under key.
//
// A missing key yields an empty document with version 0.
// An unreadable value yields an empty document that keeps the stored version, so the next save replaces it.
// Only failures of the storage itself are returned.
func (s *CollectionStore) Load(key string) (Document, error) {
	var (
		value         string
		version       int64
		schemaVersion int
	)

	err := s.db.QueryRow(
		`SELECT value, version, schema_version FROM collections WHERE key = ?`, key,
	).Scan(&value, &version, &schemaVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("%w: failed to read %s: %v", shared.ErrStorage, key, err)
	}

	records, err := decodeValue([]byte(value))
	if err != nil {
		s.Report(key, err)
		return Document{Version: version}, nil
	}

	return Document{Version: version, Records: records}, nil
}

// Save writes doc under key if the stored version still equals doc.Version.
//
// It returns the new version token, or [shared.ErrVersionConflict] when another writer got there first.
func (s *CollectionStore) Save(key string, doc Document) (int64, error) {
	records := doc.Records
	if records == nil {
		records = []json.RawMessage{}
	}

	value, err := json.Marshal(document{SchemaVersion: SchemaVersion, Records: records})
	if err != nil {
		return 0, fmt.Errorf("%w: failed to encode %s: %v", shared.ErrStorage, key, err)
	}

	now := time.Now().UTC()
	var result sql.Result
	if doc.Version == 0 {
		result, err = s.db.Exec(`
			INSERT INTO collections (key, value, version, schema_version, updated_at)
			VALUES (?, ?, 1, ?, ?)
			ON CONFLICT(key) DO NOTHING
		`, key, string(value), SchemaVersion, now)
	} else {
		result, err = s.db.Exec(`
			UPDATE collections
			SET value = ?, version = version + 1, schema_version = ?, updated_at = ?
			WHERE key = ? AND version = ?
		`, string(value), SchemaVersion, now, key, doc.Version)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: failed to write %s: %v", shared.ErrStorage, key, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to write %s: %v", shared.ErrStorage, key, err)
	}
	if affected == 0 {
		return 0, fmt.Errorf("%w: %s changed since version %d", shared.ErrVersionConflict, key, doc.Version)
	}

	return doc.Version + 1, nil
}

// Versions returns the current version of each key; missing keys map to 0.
func (s *CollectionStore) Versions(keys ...string) (map[string]int64, error) {
	versions := make(map[string]int64, len(keys))
	if len(keys) == 0 {
		return versions, nil
	}

	args := make([]any, len(keys))
	for i, k := range keys {
		versions[k] = 0
		args[i] = k
	}

	query := `SELECT key, version FROM collections WHERE key IN (?` + strings.Repeat(", ?", len(keys)-1) + `)`
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read versions: %v", shared.ErrStorage, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key     string
			version int64
		)
		if err := rows.Scan(&key, &version); err != nil {
			return nil, fmt.Errorf("%w: failed to scan version: %v", shared.ErrStorage, err)
		}
		versions[key] = version
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to read versions: %v", shared.ErrStorage, err)
	}
	return versions, nil
}

// Report forwards a data anomaly to the configured [Reporter].
func (s *CollectionStore) Report(key string, err error) {
	if s.report != nil {
		s.report(key, err)
	}
}

// Delete removes key entirely. Used by `queue clear --hard` and tests.
func (s *CollectionStore) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM collections WHERE key = ?`, key); err != nil {
		return fmt.Errorf("%w: failed to delete %s: %v", shared.ErrStorage, key, err)
	}
	return nil
}

// decodeValue parses a stored value of either schema version into its records.
func decodeValue(value []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty value", shared.ErrMalformedData)
	}

	switch trimmed[0] {
	case '[':
		return upgradeLegacy(trimmed)
	case '{':
		var doc document
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrMalformedData, err)
		}
		if doc.SchemaVersion > SchemaVersion {
			return nil, fmt.Errorf("%w: unsupported schema version %d", shared.ErrMalformedData, doc.SchemaVersion)
		}
		if doc.SchemaVersion < SchemaVersion {
			return upgradeRecords(doc.Records)
		}
		if err := checkObjects(doc.Records); err != nil {
			return nil, err
		}
		return doc.Records, nil
	default:
		return nil, fmt.Errorf("%w: value is neither a document nor an array", shared.ErrMalformedData)
	}
}

// upgradeLegacy converts a version 1 value (bare array, camelCase keys) to version 2 records.
func upgradeLegacy(value []byte) ([]json.RawMessage, error) {
	var records []json.RawMessage
	if err := json.Unmarshal(value, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrMalformedData, err)
	}
	return upgradeRecords(records)
}

func upgradeRecords(records []json.RawMessage) ([]json.RawMessage, error) {
	upgraded := make([]json.RawMessage, 0, len(records))
	for i, raw := range records {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("%w: record %d is not an object: %v", shared.ErrMalformedData, i, err)
		}

		renamed := make(map[string]json.RawMessage, len(fields))
		for k, v := range fields {
			renamed[snakeCase(k)] = v
		}

		out, err := json.Marshal(renamed)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", shared.ErrMalformedData, i, err)
		}
		upgraded = append(upgraded, out)
	}
	return upgraded, nil
}

func checkObjects(records []json.RawMessage) error {
	for i, raw := range records {
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			return fmt.Errorf("%w: record %d is not an object", shared.ErrMalformedData, i)
		}
	}
	return nil
}

// snakeCase converts camelCase keys ("replyToId") to snake_case ("reply_to_id").
func snakeCase(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
