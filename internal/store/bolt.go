//go:build !sqlite

package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/inovacc/patchrun/internal/model"
)

const boltBucketRecords = "pull_request_records" // key: campaign|repository -> PullRequestRecord JSON

// Bolt is the bbolt-backed record store.
type Bolt struct {
	storage *bbolt.DB
}

// Open opens the default store backend at path.
func Open(path string) (Store, error) {
	return NewBolt(path)
}

// NewBolt creates or opens a bbolt record store at the specified path.
func NewBolt(path string) (*Bolt, error) {
	instance, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	if err := instance.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltBucketRecords))
		return err
	}); err != nil {
		_ = instance.Close()

		return nil, err
	}

	return &Bolt{storage: instance}, nil
}

// Close closes the database.
func (b *Bolt) Close() error {
	return b.storage.Close()
}

func (b *Bolt) Get(campaign, repository string) (*model.PullRequestRecord, error) {
	var record *model.PullRequestRecord

	err := b.storage.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(boltBucketRecords)).Get(recordKey(campaign, repository))
		if data == nil {
			return nil
		}

		record = &model.PullRequestRecord{}

		return json.Unmarshal(data, record)
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

func (b *Bolt) Put(record *model.PullRequestRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	return b.storage.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(boltBucketRecords)).Put(recordKey(record.Campaign, record.Repository), data)
	})
}

func (b *Bolt) List(campaign string) ([]model.PullRequestRecord, error) {
	var records []model.PullRequestRecord

	err := b.storage.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(boltBucketRecords)).Cursor()
		prefix := recordKey(campaign, "")

		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var record model.PullRequestRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("corrupt record %q: %w", k, err)
			}

			records = append(records, record)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// recordKey builds the bucket key. The separator cannot appear in campaign
// names, which are directory names in the embedded registry.
func recordKey(campaign, repository string) []byte {
	return []byte(campaign + "|" + repository)
}
