package adapters

import (
	"context"
	"encoding/json"
	"fmt"

	"pulse.dev/rtcore/classify"
	"pulse.dev/rtcore/store"
)

// ObjectStoreModelRegistry implements ModelRegistry over the same
// store.ObjectStore blob path the Store itself uses for remote-backed
// mode, rather than introducing a second blob path for artifacts. Works
// unmodified against either store.S3ObjectStore or
// store.NewMemoryObjectStore() for tests.
type ObjectStoreModelRegistry struct {
	objects store.ObjectStore
}

func NewObjectStoreModelRegistry(objects store.ObjectStore) *ObjectStoreModelRegistry {
	return &ObjectStoreModelRegistry{objects: objects}
}

type artifactEnvelope struct {
	Metadata map[string]interface{} `json:"metadata"`
	Data     []byte                 `json:"data"`
}

func (m *ObjectStoreModelRegistry) RegisterArtifact(ctx context.Context, runID, name string, data []byte, metadata map[string]interface{}) (ArtifactRef, error) {
	key := fmt.Sprintf("artifacts/%s/%s", runID, name)

	envelope := artifactEnvelope{Metadata: metadata, Data: data}
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return ArtifactRef{}, classify.Wrap(err, "failed to marshal artifact envelope", nil)
	}

	if err := m.objects.Put(ctx, key, encoded); err != nil {
		return ArtifactRef{}, classify.Wrap(err, "failed to store artifact", nil)
	}
	return ArtifactRef{Key: key}, nil
}

func (m *ObjectStoreModelRegistry) GetArtifact(ctx context.Context, ref ArtifactRef) ([]byte, error) {
	encoded, err := m.objects.Get(ctx, ref.Key)
	if err != nil {
		return nil, classify.Wrap(err, "failed to load artifact", nil)
	}

	var envelope artifactEnvelope
	if err := json.Unmarshal(encoded, &envelope); err != nil {
		return nil, classify.Wrap(err, "failed to parse artifact envelope", nil)
	}
	return envelope.Data, nil
}
