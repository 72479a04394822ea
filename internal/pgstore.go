package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Publisher mirrors the merged index into a central Postgres so fleet
// dashboards can query one place instead of shipping SQLite files
// around. The SQLite stores stay the source of truth for scanning.
type Publisher struct {
	Pool   *pgxpool.Pool
	Logger *log.Logger
}

func NewPublisher(dsn string, logger *log.Logger) (*Publisher, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	p := &Publisher{Pool: pool, Logger: logger}
	if err := p.createTables(); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Publisher) createTables() error {
	_, err := p.Pool.Exec(context.Background(),
		`CREATE TABLE IF NOT EXISTS malicious_packages (
            id SERIAL PRIMARY KEY,
            ecosystem TEXT NOT NULL,
            name TEXT NOT NULL,
            name_normalized TEXT NOT NULL,
            severity TEXT,
            versions JSONB,
            sources JSONB,
            detected_behaviors JSONB,
            source_details JSONB,
            description TEXT,
            first_seen TEXT,
            modified TEXT,
            published_at TIMESTAMP NOT NULL,
            UNIQUE (ecosystem, name_normalized)
        );
        CREATE TABLE IF NOT EXISTS publish_runs (
            id SERIAL PRIMARY KEY,
            started TIMESTAMP NOT NULL,
            finished TIMESTAMP,
            package_count INT
        );`)
	if err != nil {
		return fmt.Errorf("creating publisher tables: %w", err)
	}
	return nil
}

func (p *Publisher) Close() {
	p.Pool.Close()
}

// Publish upserts every merged record, keyed on (ecosystem,
// name_normalized). Reruns are safe; the newest run simply overwrites.
func (p *Publisher) Publish(ctx context.Context, merged map[string][]CanonicalRecord) error {
	started := time.Now()
	var runID int64
	err := p.Pool.QueryRow(ctx,
		`INSERT INTO publish_runs (started) VALUES ($1) RETURNING id`, started).Scan(&runID)
	if err != nil {
		return fmt.Errorf("recording publish run: %w", err)
	}

	count := 0
	for eco, records := range merged {
		for i := range records {
			if err := p.upsert(ctx, eco, &records[i]); err != nil {
				return fmt.Errorf("publishing %s/%s: %w", eco, records[i].Name, err)
			}
			count++
		}
	}

	_, err = p.Pool.Exec(ctx,
		`UPDATE publish_runs SET finished = $1, package_count = $2 WHERE id = $3`,
		time.Now(), count, runID)
	if err != nil {
		return fmt.Errorf("finishing publish run: %w", err)
	}
	p.Logger.Printf("published %d packages to postgres in %s", count, time.Since(started).Round(time.Millisecond))
	return nil
}

func (p *Publisher) upsert(ctx context.Context, eco string, r *CanonicalRecord) error {
	versions, _ := json.Marshal(r.Versions)
	sources, _ := json.Marshal(r.Sources)
	behaviors, _ := json.Marshal(r.DetectedBehaviors)
	details, _ := json.Marshal(r.SourceDetails)
	_, err := p.Pool.Exec(ctx,
		`INSERT INTO malicious_packages
            (ecosystem, name, name_normalized, severity, versions, sources,
             detected_behaviors, source_details, description, first_seen, modified, published_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
         ON CONFLICT (ecosystem, name_normalized) DO UPDATE SET
            name = EXCLUDED.name,
            severity = EXCLUDED.severity,
            versions = EXCLUDED.versions,
            sources = EXCLUDED.sources,
            detected_behaviors = EXCLUDED.detected_behaviors,
            source_details = EXCLUDED.source_details,
            description = EXCLUDED.description,
            first_seen = EXCLUDED.first_seen,
            modified = EXCLUDED.modified,
            published_at = EXCLUDED.published_at`,
		eco, r.Name, r.NormalizedName(), r.Severity, versions, sources,
		behaviors, details, r.Description, r.FirstSeen, r.Modified, time.Now())
	return err
}
