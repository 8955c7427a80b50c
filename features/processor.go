package features

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pulse.dev/rtcore/classify"
	"pulse.dev/rtcore/common"
	"pulse.dev/rtcore/store"
)

// CacheDataset is the reserved Store dataset feature records are cached
// into, queried by the feature_id/pipeline_id/pipeline_version tags
// recorded in each item's metadata.
const CacheDataset = "rtcore_feature_cache"

// Processor is the Feature Processor: it turns a set of source items and
// a Pipeline into a cached Record.
type Processor struct {
	store *store.Store
	log   *common.ContextLogger
}

// New constructs a Processor backed by s for both source item reads and
// feature cache persistence.
func New(s *store.Store) *Processor {
	return &Processor{store: s, log: common.ComponentLogger(common.Logger, "features")}
}

// Process computes (or returns the cached) feature_id for itemIDs run
// through pipeline. Recomputation with the same inputs always yields the
// same feature_id (idempotence); a cache hit short-circuits before any
// step runs.
func (p *Processor) Process(ctx context.Context, itemIDs []string, pipeline Pipeline) (string, error) {
	pipelineID, err := pipeline.PipelineID()
	if err != nil {
		return "", classify.New(classify.DataInvalidInput, "derive pipeline id", err)
	}
	pipelineVersion, err := pipeline.PipelineVersion()
	if err != nil {
		return "", classify.New(classify.DataInvalidInput, "derive pipeline version", err)
	}
	params := make([]map[string]interface{}, len(pipeline.Steps))
	for i, s := range pipeline.Steps {
		params[i] = s.Params
	}
	fID, err := featureID(itemIDs, pipelineID, pipelineVersion, params)
	if err != nil {
		return "", classify.New(classify.DataInvalidInput, "derive feature id", err)
	}

	if _, err := p.Get(ctx, fID); err == nil {
		return fID, nil
	} else if cerr, ok := classify.As(err); !ok || cerr.Class != classify.StorageNotFound {
		return "", err
	}

	rows, err := p.loadRows(ctx, itemIDs)
	if err != nil {
		return "", err
	}

	for _, step := range pipeline.Steps {
		fn, ok := registry[step.StepID]
		if !ok {
			return "", classify.New(classify.DataInvalidInput, fmt.Sprintf("unknown step_id %q", step.StepID), nil)
		}
		rows, err = fn(rows, step.Params)
		if err != nil {
			return "", classify.New(classify.Classify(err), fmt.Sprintf("pipeline step %q failed", step.StepID), err)
		}
	}

	record := Record{
		FeatureID:       fID,
		SourceItemIDs:   itemIDs,
		PipelineID:      pipelineID,
		PipelineVersion: pipelineVersion,
		Values:          rows,
		CreatedAt:       time.Now().UTC(),
	}
	if err := p.persist(ctx, record); err != nil {
		return "", err
	}
	return fID, nil
}

func (p *Processor) loadRows(ctx context.Context, itemIDs []string) ([]store.Row, error) {
	rows := make([]store.Row, 0, len(itemIDs))
	for _, id := range itemIDs {
		item, err := p.store.GetItem(ctx, id)
		if err != nil {
			return nil, classify.New(classify.DataMissingFeatures, fmt.Sprintf("load source item %s", id), err)
		}
		var row store.Row
		if err := json.Unmarshal(item.Payload, &row); err != nil {
			return nil, classify.New(classify.DataSchemaMismatch, fmt.Sprintf("source item %s is not a row document", id), err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (p *Processor) persist(ctx context.Context, record Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return classify.New(classify.DataInvalidInput, "encode feature record", err)
	}
	metadata := map[string]interface{}{
		"feature_id":       record.FeatureID,
		"pipeline_id":      record.PipelineID,
		"pipeline_version": record.PipelineVersion,
	}
	_, err = p.store.PutItem(ctx, CacheDataset, "features.processor", metadata, payload)
	if err != nil {
		return classify.New(classify.StorageIO, "persist feature record", err)
	}
	return nil
}

// Get returns the cached Record for featureID, or a StorageNotFound
// classified error if no such record is cached.
func (p *Processor) Get(ctx context.Context, featureID string) (Record, error) {
	ids, err := p.store.Query(store.Query{Equals: map[string]interface{}{"feature_id": featureID}})
	if err != nil {
		return Record{}, classify.New(classify.StorageIO, "query feature cache", err)
	}
	if len(ids) == 0 {
		return Record{}, classify.New(classify.StorageNotFound, fmt.Sprintf("no cached feature record for %s", featureID), nil)
	}
	item, err := p.store.GetItem(ctx, ids[0])
	if err != nil {
		return Record{}, classify.New(classify.StorageIO, "load cached feature record", err)
	}
	var record Record
	if err := json.Unmarshal(item.Payload, &record); err != nil {
		return Record{}, classify.New(classify.DataIntegrity, "decode cached feature record", err)
	}
	return record, nil
}

// Invalidate bulk-removes every cached record for (pipelineID,
// pipelineVersion), returning the count removed.
func (p *Processor) Invalidate(pipelineID, pipelineVersion string) (int, error) {
	n, err := p.store.Invalidate(store.Query{Equals: map[string]interface{}{
		"pipeline_id":      pipelineID,
		"pipeline_version": pipelineVersion,
	}})
	if err != nil {
		return 0, classify.New(classify.StorageIO, "invalidate feature cache", err)
	}
	p.log.WithField("pipeline_id", pipelineID).WithField("count", n).Info("feature cache invalidated")
	return n, nil
}
