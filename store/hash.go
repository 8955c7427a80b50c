package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// canonicalMetadata renders metadata deterministically: an explicit
// top-level key sort pass, with nested maps left to encoding/json, which
// also marshals map keys in sorted order, since two metadata maps built in
// different field orders must hash identically.
func canonicalMetadata(metadata map[string]interface{}) ([]byte, error) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]struct {
		Key   string      `json:"k"`
		Value interface{} `json:"v"`
	}, len(keys))
	for i, k := range keys {
		ordered[i].Key = k
		ordered[i].Value = metadata[k]
	}
	return json.Marshal(ordered)
}

// ItemID derives the content hash used as an item's stable identifier: a
// 256-bit hash over the canonical metadata JSON followed by the raw
// payload bytes. Two identical (metadata, payload) pairs always hash to
// the same item_id regardless of source, which is what makes duplicate
// ingestion from different adapters deduplicate by content.
func ItemID(metadata map[string]interface{}, payload []byte) (string, error) {
	canon, err := canonicalMetadata(metadata)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(canon)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// fanout returns the two-level directory prefix for an item_id, matching
// the persisted layout store/items/<aa>/<bb>/<item_id>.
func fanout(itemID string) (string, string) {
	if len(itemID) < 4 {
		return "00", "00"
	}
	return itemID[0:2], itemID[2:4]
}
