package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pulse.dev/rtcore/classify"
	"pulse.dev/rtcore/common"
)

// Config controls how a Store persists items: always to the local
// fanned-out directory tree and bolt index, optionally mirrored to a
// remote ObjectStore with a bounded local LRU cache in front of it.
type Config struct {
	Path               string
	Compression        Compression
	RemoteBacked       bool
	Objects            ObjectStore
	CacheMaxBytes      int64
	PrefetchPages      int
}

// Store is the content-addressed, versioned item and dataset repository.
// One Store owns one local index file; all its methods are safe for
// concurrent use.
type Store struct {
	cfg   Config
	idx   *index
	cache *localCache
	log   *common.ContextLogger
}

// Open constructs a Store rooted at cfg.Path, creating the directory layout
// and index if they do not already exist.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: Config.Path is required")
	}
	if cfg.Compression == "" {
		cfg.Compression = CompressionZstd
	}
	if cfg.PrefetchPages <= 0 {
		cfg.PrefetchPages = 2
	}

	for _, sub := range []string{"items", "datasets", "index"} {
		if err := os.MkdirAll(filepath.Join(cfg.Path, sub), 0o755); err != nil {
			return nil, fmt.Errorf("store: create %s: %w", sub, err)
		}
	}

	idx, err := openIndex(filepath.Join(cfg.Path, "index", "index.bolt"))
	if err != nil {
		return nil, err
	}

	s := &Store{
		cfg: cfg,
		idx: idx,
		log: common.ComponentLogger(common.Logger, "store"),
	}

	if cfg.RemoteBacked {
		if cfg.Objects == nil {
			return nil, fmt.Errorf("store: RemoteBacked requires Objects")
		}
		maxBytes := cfg.CacheMaxBytes
		if maxBytes <= 0 {
			maxBytes = 256 << 20
		}
		cache, err := newLocalCache(filepath.Join(cfg.Path, "cache"), maxBytes)
		if err != nil {
			return nil, fmt.Errorf("store: open cache: %w", err)
		}
		s.cache = cache
	}

	s.log.WithField("path", cfg.Path).Info("store opened")
	return s, nil
}

func (s *Store) itemPath(itemID string) string {
	a, b := fanout(itemID)
	return filepath.Join(s.cfg.Path, "items", a, b, itemID)
}

// PutItem stores payload+metadata, deriving item_id from their content
// hash. Re-putting an identical (metadata, payload) pair is a no-op that
// returns the same item_id: the write path is idempotent by construction.
func (s *Store) PutItem(ctx context.Context, datasetID, source string, metadata map[string]interface{}, payload []byte) (string, error) {
	return s.putItem(ctx, datasetID, source, metadata, payload, s.cfg.Compression)
}

func (s *Store) putItem(ctx context.Context, datasetID, source string, metadata map[string]interface{}, payload []byte, codec Compression) (string, error) {
	itemID, err := ItemID(metadata, payload)
	if err != nil {
		return "", fmt.Errorf("store: hash item: %w", err)
	}

	if entry, ok, err := s.idx.getItemEntry(itemID); err != nil {
		return "", err
	} else if ok && !entry.Tombstone {
		return itemID, nil
	}

	compressed, err := compress(codec, payload)
	if err != nil {
		return "", err
	}

	path := s.itemPath(itemID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("store: mkdir: %w", err)
	}
	if err := stageWriteRename(path, compressed); err != nil {
		return "", fmt.Errorf("store: write item: %w", err)
	}

	if s.cfg.RemoteBacked {
		if err := s.cfg.Objects.Put(ctx, itemID, compressed); err != nil {
			s.log.WithError(err).WithField("item_id", itemID).Warn("remote put failed")
			return "", fmt.Errorf("store: remote put item %s: %w", itemID, err)
		}
	}

	entry := indexEntry{
		DatasetID: datasetID,
		Path:      path,
		Size:      int64(len(compressed)),
		Checksum:  itemID,
		Metadata:  metadata,
		Codec:     string(codec),
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.idx.putItemEntry(itemID, entry); err != nil {
		return "", err
	}

	return itemID, nil
}

// PutRowBatch stores rows as one checksummed columnar page and returns the
// resulting item_id. This is the write path used for stream_dataset
// members; plain blobs go through PutItem directly.
func (s *Store) PutRowBatch(ctx context.Context, datasetID, source string, metadata map[string]interface{}, rows []Row) (string, error) {
	page, err := encodePage(s.cfg.Compression, rows)
	if err != nil {
		return "", err
	}
	// The page already carries its own codec and checksum; store it
	// through putItem uncompressed at the outer layer so GetItem returns
	// the page bytes unchanged for decodePage to consume.
	return s.putItem(ctx, datasetID, source, metadata, page, CompressionNone)
}

// GetItem retrieves an item's payload by id. A local miss falls back to
// the ObjectStore (remote-backed mode only), populating the local cache on
// the way back so repeated reads of the same item stay local.
func (s *Store) GetItem(ctx context.Context, itemID string) (Item, error) {
	entry, ok, err := s.idx.getItemEntry(itemID)
	if err != nil {
		return Item{}, err
	}
	if !ok || entry.Tombstone {
		return Item{}, fmt.Errorf("store: item not found: %s", itemID)
	}

	var compressed []byte
	if data, err := os.ReadFile(entry.Path); err == nil {
		compressed = data
	} else if s.cache != nil {
		if cached, hit := s.cache.get(itemID); hit {
			compressed = cached
		}
	}

	if compressed == nil {
		if !s.cfg.RemoteBacked {
			return Item{}, fmt.Errorf("store: read item %s: %w", itemID, err)
		}
		remote, rerr := s.cfg.Objects.Get(ctx, itemID)
		if rerr != nil {
			return Item{}, fmt.Errorf("store: remote get item %s: %w", itemID, rerr)
		}
		compressed = remote
		if s.cache != nil {
			_ = s.cache.put(itemID, remote)
		}
	}

	payload, err := decompress(Compression(entry.Codec), compressed)
	if err != nil {
		return Item{}, fmt.Errorf("store: decompress item %s: %w", itemID, err)
	}

	return Item{
		ItemID:    itemID,
		DatasetID: entry.DatasetID,
		Source:    entry.Source,
		CreatedAt: entry.CreatedAt,
		Metadata:  entry.Metadata,
		Payload:   payload,
	}, nil
}

// PutDataset publishes a new version of name containing itemIDs, failing
// if any member item is not already present in the index.
func (s *Store) PutDataset(name string, itemIDs []string, schemaRef string, compression Compression) (Dataset, error) {
	version, _, err := s.idx.latestVersion(name)
	if err != nil {
		return Dataset{}, err
	}
	ds := Dataset{
		DatasetID:   name,
		Name:        name,
		Version:     version + 1,
		CreatedAt:   time.Now().UTC(),
		ItemIDs:     itemIDs,
		SchemaRef:   schemaRef,
		Compression: string(compression),
	}
	if err := s.idx.publishDataset(name, ds); err != nil {
		return Dataset{}, err
	}
	return ds, nil
}

// GetDataset returns the requested version, or the latest if version <= 0.
func (s *Store) GetDataset(name string, version int) (Dataset, error) {
	if version <= 0 {
		latest, ok, err := s.idx.latestVersion(name)
		if err != nil {
			return Dataset{}, err
		}
		if !ok {
			return Dataset{}, fmt.Errorf("store: dataset not found: %s", name)
		}
		version = latest
	}
	ds, ok, err := s.idx.getDataset(name, version)
	if err != nil {
		return Dataset{}, err
	}
	if !ok {
		return Dataset{}, fmt.Errorf("store: dataset not found: %s@%d", name, version)
	}
	return ds, nil
}

// projectColumns returns row narrowed to columns, or row unchanged if
// columns is empty (no projection requested).
func projectColumns(row Row, columns []string) Row {
	if len(columns) == 0 {
		return row
	}
	projected := make(Row, len(columns))
	for _, col := range columns {
		if v, ok := row[col]; ok {
			projected[col] = v
		}
	}
	return projected
}

// StreamDataset decodes every item of a dataset version, applying filter
// (against the full, unprojected row) if non-nil, then projecting the
// surviving rows down to columns if non-empty, and delivers RecordBatch
// values of up to batchRows rows each (batchRows <= 0 emits one batch per
// decoded item page, the legacy behavior) on the returned channel with a
// bounded read-ahead of cfg.PrefetchPages batches. The channel is closed
// when the dataset is exhausted, ctx is cancelled, or an error occurs; the
// caller must drain errc after the batch channel closes. A context
// cancellation is reported as a classify.SystemCancelled error, not the
// bare ctx.Err().
func (s *Store) StreamDataset(ctx context.Context, name string, version int, columns []string, filter RowFilter, batchRows int) (<-chan RecordBatch, <-chan error) {
	out := make(chan RecordBatch, s.cfg.PrefetchPages)
	errc := make(chan error, 1)

	cancelled := func() error {
		return classify.New(classify.SystemCancelled, "stream_dataset: context cancelled", ctx.Err())
	}

	go func() {
		defer close(out)
		defer close(errc)

		ds, err := s.GetDataset(name, version)
		if err != nil {
			errc <- err
			return
		}

		var pending []Row
		flush := func(force bool) bool {
			for batchRows > 0 && len(pending) >= batchRows {
				select {
				case out <- RecordBatch{Rows: pending[:batchRows]}:
					pending = pending[batchRows:]
				case <-ctx.Done():
					errc <- cancelled()
					return false
				}
			}
			if (force || batchRows <= 0) && len(pending) > 0 {
				select {
				case out <- RecordBatch{Rows: pending}:
					pending = nil
				case <-ctx.Done():
					errc <- cancelled()
					return false
				}
			}
			return true
		}

		for _, itemID := range ds.ItemIDs {
			select {
			case <-ctx.Done():
				errc <- cancelled()
				return
			default:
			}

			item, err := s.GetItem(ctx, itemID)
			if err != nil {
				errc <- err
				return
			}

			rows, err := decodePage(item.Payload)
			if err != nil {
				errc <- err
				return
			}
			if filter != nil {
				kept := rows[:0]
				for _, r := range rows {
					if filter(r) {
						kept = append(kept, r)
					}
				}
				rows = kept
			}
			for i, r := range rows {
				rows[i] = projectColumns(r, columns)
			}
			pending = append(pending, rows...)

			if !flush(batchRows <= 0) {
				return
			}
		}

		flush(true)
	}()

	return out, errc
}

// Query returns item ids whose stored metadata matches every key in q.
func (s *Store) Query(q Query) ([]string, error) {
	return s.idx.queryEquals(q)
}

// Tombstone marks itemID as deleted. The on-disk payload is left in
// place (content-addressed items may still be referenced by a published
// dataset version) but GetItem and Query both treat it as absent from
// this point on.
func (s *Store) Tombstone(itemID string) error {
	return s.idx.tombstoneItemEntry(itemID)
}

// Invalidate tombstones every item matching q, returning the count
// removed. Used by cache layers (e.g. the Feature Processor) built on
// top of the Store to bulk-evict entries by metadata rather than by id.
func (s *Store) Invalidate(q Query) (int, error) {
	ids, err := s.idx.queryEquals(q)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := s.idx.tombstoneItemEntry(id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// PutCheckpoint durably records resume state for a training run.
func (s *Store) PutCheckpoint(runID string, cp Checkpoint) error {
	cp.RunID = runID
	cp.At = time.Now().UTC()
	return s.idx.putCheckpoint(runID, cp)
}

// LatestCheckpoint returns the most recent checkpoint for runID, if any.
func (s *Store) LatestCheckpoint(runID string) (Checkpoint, bool, error) {
	return s.idx.latestCheckpoint(runID)
}

// Close releases the local index file handle.
func (s *Store) Close() error {
	return s.idx.close()
}
