package feeds

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"go.etcd.io/bbolt"
)

const latestKey = "latest"

// Cache keeps every raw collector document in a bbolt file, one bucket
// per source. The merge step reads from here, so a rebuild can run
// offline against the last good collection.
type Cache struct {
	DB     *bbolt.DB
	Logger *log.Logger
}

func OpenCache(path string, logger *log.Logger) (*Cache, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening feed cache %s: %w", path, err)
	}
	return &Cache{DB: db, Logger: logger}, nil
}

func (c *Cache) Close() error {
	return c.DB.Close()
}

// Put stores a document under its collection timestamp and points
// "latest" at it. Failure envelopes (Error set) are kept for the audit
// trail but never become latest, so a bad run cannot clobber the last
// good collection.
func (c *Cache) Put(doc *Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding %s document: %w", doc.Source, err)
	}
	return c.DB.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(doc.Source))
		if err != nil {
			return err
		}
		if err := b.Put([]byte(doc.CollectedAt), data); err != nil {
			return err
		}
		if doc.Error != "" {
			return nil
		}
		return b.Put([]byte(latestKey), data)
	})
}

// Latest returns the most recent document for a source, nil when the
// source has never been collected.
func (c *Cache) Latest(source string) (*Document, error) {
	var doc *Document
	err := c.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(source))
		if b == nil {
			return nil
		}
		data := b.Get([]byte(latestKey))
		if data == nil {
			return nil
		}
		doc = &Document{}
		return json.Unmarshal(data, doc)
	})
	if err != nil {
		return nil, fmt.Errorf("reading cached %s document: %w", source, err)
	}
	return doc, nil
}

// Sources lists every bucket that holds at least one document.
func (c *Cache) Sources() ([]string, error) {
	var out []string
	err := c.DB.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bbolt.Bucket) error {
			out = append(out, string(name))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Prune drops every stored generation for a source except latest.
func (c *Cache) Prune(source string) error {
	return c.DB.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(source))
		if b == nil {
			return nil
		}
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			if string(k) != latestKey {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
