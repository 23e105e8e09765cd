package genesets

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"rnadiff/domain/genesets"
)

var bucketCollections = []byte("collections")

// BoltCache stores parsed collections keyed by file path, size and modification time.
type BoltCache struct {
	db *bbolt.DB
}

// NewBoltCache opens (creating if needed) the cache file at path.
func NewBoltCache(path string) (*BoltCache, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketCollections); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketCollections, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltCache{db: db}, nil
}

// Close releases the cache file
func (c *BoltCache) Close() error {
	return c.db.Close()
}

type cachedCollection struct {
	Source string             `json:"source"`
	Sets   []genesets.GeneSet `json:"sets"`
}

// Get returns the cached collection for key, or nil when absent.
func (c *BoltCache) Get(key string) (*genesets.Collection, error) {
	var out *genesets.Collection
	err := c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketCollections).Get([]byte(key))
		if data == nil {
			return nil
		}
		var cached cachedCollection
		if err := json.Unmarshal(data, &cached); err != nil {
			return err
		}
		out = &genesets.Collection{Source: cached.Source, Sets: cached.Sets}
		return nil
	})
	return out, err
}

// Put stores a collection under key
func (c *BoltCache) Put(key string, collection *genesets.Collection) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(cachedCollection{Source: collection.Source, Sets: collection.Sets})
		if err != nil {
			return err
		}
		return tx.Bucket(bucketCollections).Put([]byte(key), data)
	})
}
