package internal

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

const SchemaVersion = "2"

const storeSchema = `
CREATE TABLE metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE packages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	name_normalized TEXT NOT NULL,
	severity TEXT,
	first_seen TEXT,
	modified TEXT,
	last_updated TEXT,
	description TEXT,
	full_details TEXT,
	detected_behaviors TEXT,
	source_details TEXT,
	aliases TEXT,
	cwes TEXT
);
CREATE TABLE package_versions (
	package_id INTEGER NOT NULL,
	version TEXT NOT NULL,
	PRIMARY KEY (package_id, version)
);
CREATE TABLE package_sources (
	package_id INTEGER NOT NULL,
	source TEXT NOT NULL,
	PRIMARY KEY (package_id, source)
);
CREATE TABLE package_references (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	package_id INTEGER NOT NULL,
	ref_type TEXT,
	url TEXT NOT NULL
);
CREATE TABLE package_origins (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	package_id INTEGER NOT NULL,
	source_name TEXT NOT NULL,
	source_id TEXT,
	modified_time TEXT,
	ranges TEXT
);
`

const storeIndexes = `
CREATE UNIQUE INDEX idx_packages_name_normalized ON packages(name_normalized);
CREATE INDEX idx_package_versions_package_id ON package_versions(package_id);
CREATE INDEX idx_package_sources_package_id ON package_sources(package_id);
CREATE INDEX idx_package_references_package_id ON package_references(package_id);
CREATE INDEX idx_package_origins_package_id ON package_origins(package_id);
`

// StorePath names the index file for one ecosystem inside dir.
func StorePath(dir, ecosystem string) string {
	return filepath.Join(dir, fmt.Sprintf("malicious-%s.db", ecosystem))
}

// BuildStore writes a complete index for one ecosystem. The whole build
// happens in a temp file next to the target; the final os.Rename is the
// only moment readers can observe, so they never see a partial store.
// An empty record slice still produces a valid, queryable store.
func BuildStore(dir, ecosystem string, records []CanonicalRecord, logger *log.Logger) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating index dir: %w", err)
	}
	final := StorePath(dir, ecosystem)
	tmp := final + ".tmp"
	os.Remove(tmp)

	db, err := sql.Open("sqlite", tmp)
	if err != nil {
		return fmt.Errorf("opening temp store: %w", err)
	}
	defer os.Remove(tmp)

	if err := buildInto(db, ecosystem, records); err != nil {
		db.Close()
		return err
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("closing temp store: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("publishing store: %w", err)
	}
	logger.Printf("built %s index with %d packages at %s", ecosystem, len(records), final)
	return nil
}

func buildInto(db *sql.DB, ecosystem string, records []CanonicalRecord) error {
	if _, err := db.Exec(storeSchema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("starting build transaction: %w", err)
	}
	defer tx.Rollback()

	now := Timestamp(time.Now())
	for i := range records {
		if err := insertRecord(tx, &records[i], now); err != nil {
			return fmt.Errorf("inserting %s: %w", records[i].Name, err)
		}
	}
	if _, err := tx.Exec(storeIndexes); err != nil {
		return fmt.Errorf("creating indexes: %w", err)
	}
	meta := map[string]string{
		"schema_version": SchemaVersion,
		"ecosystem":      ecosystem,
		"generated_at":   now,
		"package_count":  fmt.Sprint(len(records)),
	}
	for k, v := range meta {
		if _, err := tx.Exec(`INSERT INTO metadata (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("writing metadata %s: %w", k, err)
		}
	}
	return tx.Commit()
}

func insertRecord(tx *sql.Tx, r *CanonicalRecord, now string) error {
	firstSeen := r.FirstSeen
	if firstSeen == "" {
		firstSeen = now[:10]
	}
	behaviors, _ := json.Marshal(r.DetectedBehaviors)
	details, _ := json.Marshal(r.SourceDetails)
	aliases, _ := json.Marshal(r.Aliases)
	cwes, _ := json.Marshal(r.CWEs)

	res, err := tx.Exec(`INSERT INTO packages
		(name, name_normalized, severity, first_seen, modified, last_updated,
		 description, full_details, detected_behaviors, source_details, aliases, cwes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Name, r.NormalizedName(), r.Severity, firstSeen, r.Modified, now,
		r.Description, r.FullDetails, string(behaviors), string(details),
		string(aliases), string(cwes))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	for _, v := range dedupe(r.Versions) {
		if _, err := tx.Exec(`INSERT INTO package_versions (package_id, version) VALUES (?, ?)`, id, v); err != nil {
			return err
		}
	}
	for _, s := range dedupe(r.Sources) {
		if _, err := tx.Exec(`INSERT INTO package_sources (package_id, source) VALUES (?, ?)`, id, s); err != nil {
			return err
		}
	}
	for _, ref := range r.References {
		if _, err := tx.Exec(`INSERT INTO package_references (package_id, ref_type, url) VALUES (?, ?, ?)`, id, ref.Type, ref.URL); err != nil {
			return err
		}
	}
	for _, o := range r.Origins {
		var ranges any
		if len(o.Ranges) > 0 {
			ranges = string(o.Ranges)
		}
		if _, err := tx.Exec(`INSERT INTO package_origins (package_id, source_name, source_id, modified_time, ranges) VALUES (?, ?, ?, ?, ?)`,
			id, o.SourceName, o.SourceID, o.ModifiedTime, ranges); err != nil {
			return err
		}
	}
	return nil
}

func dedupe(in []string) []string {
	return unionStrings(nil, in)
}

// Store is a read-only handle on one ecosystem's index file.
type Store struct {
	Ecosystem string
	Path      string
	DB        *sql.DB
	Logger    *log.Logger
}

// ErrStoreMissing reports an index file that has not been built yet.
var ErrStoreMissing = errors.New("index store not found")

// OpenStore opens an index read-only. A missing file returns
// ErrStoreMissing so callers can treat it as no-data rather than
// failure.
func OpenStore(dir, ecosystem string, logger *log.Logger) (*Store, error) {
	path := StorePath(dir, ecosystem)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrStoreMissing, path)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &Store{Ecosystem: ecosystem, Path: path, DB: db, Logger: logger}, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

// Lookup fetches the record stored under a normalized name. Versions
// come back sorted in byte order so callers get a stable representative
// when the query carries no version. A miss returns (nil, nil).
func (s *Store) Lookup(nameNormalized string) (*CanonicalRecord, error) {
	row := s.DB.QueryRow(`SELECT id, name, severity, first_seen, modified, last_updated,
		description, full_details, detected_behaviors, source_details, aliases, cwes
		FROM packages WHERE name_normalized = ?`, nameNormalized)

	var id int64
	var r CanonicalRecord
	var behaviors, details, aliases, cwes string
	err := row.Scan(&id, &r.Name, &r.Severity, &r.FirstSeen, &r.Modified, &r.LastUpdated,
		&r.Description, &r.FullDetails, &behaviors, &details, &aliases, &cwes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", nameNormalized, err)
	}
	r.Ecosystem = s.Ecosystem
	json.Unmarshal([]byte(behaviors), &r.DetectedBehaviors)
	json.Unmarshal([]byte(details), &r.SourceDetails)
	json.Unmarshal([]byte(aliases), &r.Aliases)
	json.Unmarshal([]byte(cwes), &r.CWEs)

	if r.Versions, err = s.stringColumn(`SELECT version FROM package_versions WHERE package_id = ?`, id); err != nil {
		return nil, err
	}
	sort.Strings(r.Versions)
	if r.Sources, err = s.stringColumn(`SELECT source FROM package_sources WHERE package_id = ?`, id); err != nil {
		return nil, err
	}
	if err := s.loadReferences(id, &r); err != nil {
		return nil, err
	}
	if err := s.loadOrigins(id, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) stringColumn(query string, id int64) ([]string, error) {
	rows, err := s.DB.Query(query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) loadReferences(id int64, r *CanonicalRecord) error {
	rows, err := s.DB.Query(`SELECT ref_type, url FROM package_references WHERE package_id = ?`, id)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var ref Reference
		if err := rows.Scan(&ref.Type, &ref.URL); err != nil {
			return err
		}
		r.References = append(r.References, ref)
	}
	return rows.Err()
}

func (s *Store) loadOrigins(id int64, r *CanonicalRecord) error {
	rows, err := s.DB.Query(`SELECT source_name, source_id, modified_time, ranges FROM package_origins WHERE package_id = ?`, id)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var o Origin
		var ranges sql.NullString
		if err := rows.Scan(&o.SourceName, &o.SourceID, &o.ModifiedTime, &ranges); err != nil {
			return err
		}
		if ranges.Valid && ranges.String != "" {
			o.Ranges = json.RawMessage(ranges.String)
		}
		r.Origins = append(r.Origins, o)
	}
	return rows.Err()
}

// Metadata returns one metadata value, empty string when absent.
func (s *Store) Metadata(key string) (string, error) {
	var v string
	err := s.DB.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading metadata %s: %w", key, err)
	}
	return v, nil
}

// PackageCount reads the row count directly rather than trusting the
// metadata entry.
func (s *Store) PackageCount() (int, error) {
	var n int
	if err := s.DB.QueryRow(`SELECT COUNT(*) FROM packages`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
