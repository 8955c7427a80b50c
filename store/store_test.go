package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: t.TempDir(), Compression: CompressionZstd})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutItemIsContentAddressedAndIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	md := map[string]interface{}{"source": "adapter-a"}
	payload := []byte("hello world")

	id1, err := s.PutItem(ctx, "", "adapter-a", md, payload)
	require.NoError(t, err)

	id2, err := s.PutItem(ctx, "", "adapter-a", md, payload)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)

	wantID, err := ItemID(md, payload)
	require.NoError(t, err)
	assert.Equal(t, wantID, id1)
}

func TestGetItemRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	md := map[string]interface{}{"k": "v"}
	payload := []byte("payload bytes")

	id, err := s.PutItem(ctx, "ds-1", "adapter-a", md, payload)
	require.NoError(t, err)

	item, err := s.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, payload, item.Payload)
	assert.Equal(t, "v", item.Metadata["k"])
	assert.Equal(t, "ds-1", item.DatasetID)
}

func TestGetItemMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetItem(context.Background(), "does-not-exist")
	assert.Error(t, err)
}

func TestPutDatasetRejectsUnknownMember(t *testing.T) {
	s := openTestStore(t)
	_, err := s.PutDataset("ds", []string{"not-an-item"}, "schema-v1", CompressionNone)
	assert.Error(t, err)
}

func TestPutDatasetPublishesAtomically(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.PutItem(ctx, "", "src", map[string]interface{}{"n": 1}, []byte("a"))
	require.NoError(t, err)

	ds, err := s.PutDataset("ds", []string{id}, "schema-v1", CompressionNone)
	require.NoError(t, err)
	assert.Equal(t, 1, ds.Version)

	got, err := s.GetDataset("ds", 0)
	require.NoError(t, err)
	assert.Equal(t, ds.ItemIDs, got.ItemIDs)

	ds2, err := s.PutDataset("ds", []string{id}, "schema-v1", CompressionNone)
	require.NoError(t, err)
	assert.Equal(t, 2, ds2.Version)
}

func TestStreamDatasetDeliversAllRowsInOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := s.PutRowBatch(ctx, "", "src", map[string]interface{}{"batch": i},
			[]Row{{"i": i, "v": "x"}})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	_, err := s.PutDataset("stream-ds", ids, "schema-v1", CompressionZstd)
	require.NoError(t, err)

	out, errc := s.StreamDataset(ctx, "stream-ds", 0, nil, nil, 0)

	var seen []int
	for batch := range out {
		require.Len(t, batch.Rows, 1)
		seen = append(seen, int(batch.Rows[0]["i"].(float64)))
	}
	require.NoError(t, <-errc)
	assert.Equal(t, []int{0, 1, 2}, seen)
}

func TestStreamDatasetProjectsColumns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.PutRowBatch(ctx, "", "src", nil, []Row{
		{"keep": 1, "drop": "a"}, {"keep": 2, "drop": "b"},
	})
	require.NoError(t, err)
	_, err = s.PutDataset("projected", []string{id}, "schema-v1", CompressionNone)
	require.NoError(t, err)

	out, errc := s.StreamDataset(ctx, "projected", 0, []string{"keep"}, nil, 0)

	var rows []Row
	for batch := range out {
		rows = append(rows, batch.Rows...)
	}
	require.NoError(t, <-errc)
	require.Len(t, rows, 2)
	for _, r := range rows {
		_, hasDrop := r["drop"]
		assert.False(t, hasDrop)
		_, hasKeep := r["keep"]
		assert.True(t, hasKeep)
	}
}

func TestStreamDatasetCapsBatchRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var rows []Row
	for i := 0; i < 5; i++ {
		rows = append(rows, Row{"i": i})
	}
	id, err := s.PutRowBatch(ctx, "", "src", nil, rows)
	require.NoError(t, err)
	_, err = s.PutDataset("capped", []string{id}, "schema-v1", CompressionNone)
	require.NoError(t, err)

	out, errc := s.StreamDataset(ctx, "capped", 0, nil, nil, 2)

	var sizes []int
	var total int
	for batch := range out {
		sizes = append(sizes, len(batch.Rows))
		total += len(batch.Rows)
	}
	require.NoError(t, <-errc)
	assert.Equal(t, 5, total)
	for _, n := range sizes {
		assert.LessOrEqual(t, n, 2)
	}
}

func TestStreamDatasetAppliesFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.PutRowBatch(ctx, "", "src", nil, []Row{
		{"keep": true}, {"keep": false}, {"keep": true},
	})
	require.NoError(t, err)
	_, err = s.PutDataset("filtered", []string{id}, "schema-v1", CompressionNone)
	require.NoError(t, err)

	out, errc := s.StreamDataset(ctx, "filtered", 0, nil, func(r Row) bool {
		keep, _ := r["keep"].(bool)
		return keep
	}, 0)

	var total int
	for batch := range out {
		total += len(batch.Rows)
	}
	require.NoError(t, <-errc)
	assert.Equal(t, 2, total)
}

func TestQueryMatchesOnMetadataEquality(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	idA, err := s.PutItem(ctx, "", "src", map[string]interface{}{"kind": "a"}, []byte("1"))
	require.NoError(t, err)
	_, err = s.PutItem(ctx, "", "src", map[string]interface{}{"kind": "b"}, []byte("2"))
	require.NoError(t, err)

	matches, err := s.Query(Query{Equals: map[string]interface{}{"kind": "a"}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{idA}, matches)
}

func TestCheckpointRoundTrips(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.LatestCheckpoint("run-1")
	require.NoError(t, err)
	assert.False(t, ok)

	err = s.PutCheckpoint("run-1", Checkpoint{BatchIndex: 4, TrustSnapshotID: "snap-1"})
	require.NoError(t, err)

	cp, ok, err := s.LatestCheckpoint("run-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4, cp.BatchIndex)
	assert.Equal(t, "run-1", cp.RunID)
}

func TestPutItemCompressionRoundTripsPerCodec(t *testing.T) {
	for _, codec := range []Compression{CompressionNone, CompressionSnappy, CompressionZstd} {
		t.Run(string(codec), func(t *testing.T) {
			s, err := Open(Config{Path: t.TempDir(), Compression: codec})
			require.NoError(t, err)
			defer s.Close()

			ctx := context.Background()
			payload := []byte("repeatable payload bytes for compression round trip testing")
			id, err := s.PutItem(ctx, "", "src", nil, payload)
			require.NoError(t, err)

			item, err := s.GetItem(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, payload, item.Payload)
		})
	}
}
