// Package store implements the versioned, content-addressed item and
// dataset repository: the durable base every other rtcore component reads
// from or writes through.
//
// Items are immutable once stored and addressed by a content hash. Dataset
// versions are published atomically and are immutable once published.
// Every write follows stage-to-temp, fsync, rename so a crash at any single
// write boundary leaves either the prior state or the new state, never a
// mix (spec's crash-consistency invariant).
package store

import "time"

// Item is an immutable content-addressed blob plus its metadata.
type Item struct {
	ItemID    string                 `json:"item_id"`
	DatasetID string                 `json:"dataset_id"`
	Source    string                 `json:"source"`
	CreatedAt time.Time              `json:"created_at"`
	Payload   []byte                 `json:"payload"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// Dataset is a named, versioned, ordered grouping of items.
type Dataset struct {
	DatasetID   string    `json:"dataset_id"`
	Name        string    `json:"name"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	ItemIDs     []string  `json:"item_ids"`
	SchemaRef   string    `json:"schema_ref"`
	Compression string    `json:"compression"`
}

// indexEntry is the StoreIndex's per-item record: item_id -> location. It
// carries a copy of the item's metadata so query() can scan the index
// without reading every item's payload off disk.
type indexEntry struct {
	DatasetID string                 `json:"dataset_id"`
	Version   int                    `json:"version"`
	Path      string                 `json:"path"`
	Size      int64                  `json:"size"`
	Checksum  string                 `json:"checksum"`
	Tombstone bool                   `json:"tombstone"`
	Metadata  map[string]interface{} `json:"metadata"`
	Codec     string                 `json:"codec"`
	Source    string                 `json:"source"`
	CreatedAt time.Time              `json:"created_at"`
}

// datasetPointer is the StoreIndex's dataset_name -> latest_version record.
type datasetPointer struct {
	LatestVersion int `json:"latest_version"`
}

// Checkpoint is a durable snapshot sufficient to resume a training run
// without double-applying trust updates.
type Checkpoint struct {
	RunID                string    `json:"run_id"`
	BatchIndex            int       `json:"batch_index"`
	StoreVersionsConsumed map[string]int `json:"store_versions_consumed"`
	TrustSnapshotID       string    `json:"trust_snapshot_id"`
	MetricsWatermark      time.Time `json:"metrics_watermark"`
	At                    time.Time `json:"at"`
}

// Row is one record of a columnar batch: column name to scalar value.
type Row map[string]interface{}

// RecordBatch is a decoded, column-projected slice of rows returned by
// stream_dataset.
type RecordBatch struct {
	Rows []Row
}

// RowFilter is pushed into the reader: StreamDataset applies it to each
// decoded row of a page before projection and batching.
type RowFilter func(Row) bool

// Query selects items whose canonical metadata fields equal the values in
// Equals. Only equality matching is supported; there are no range filters.
type Query struct {
	Equals map[string]interface{}
}
