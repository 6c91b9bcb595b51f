// Package store persists PullRequestRecord entries across invocations so
// re-running a campaign never duplicates pull requests. The default backend
// is bbolt; build with -tags sqlite for the SQLite backend.
package store

import "github.com/inovacc/patchrun/internal/model"

// Store holds the at-most-one-PR-per-campaign-per-repository bookkeeping.
type Store interface {
	// Get returns the record for (campaign, repository key), or nil when no
	// record exists.
	Get(campaign, repository string) (*model.PullRequestRecord, error)
	// Put inserts or replaces a record.
	Put(record *model.PullRequestRecord) error
	// List returns all records for a campaign, sorted by repository key.
	List(campaign string) ([]model.PullRequestRecord, error)
	Close() error
}
