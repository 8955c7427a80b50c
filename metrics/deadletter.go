package metrics

import (
	"context"
	"encoding/json"

	"pulse.dev/rtcore/classify"
	"pulse.dev/rtcore/store"
)

// DeadLetterDataset is the reserved Store dataset name metric batches are
// written to once a flush exhausts retries and no error callback
// consumes it.
const DeadLetterDataset = "rtcore_metrics_dead_letter"

// storeDeadLetterSink is the default DeadLetterSink, writing failed
// batches as row items into DeadLetterDataset.
type storeDeadLetterSink struct {
	s *store.Store
}

// NewStoreDeadLetterSink returns a DeadLetterSink that writes undelivered
// metric batches into s as items tagged with DeadLetterDataset, so
// operators can inspect or replay them through the same tooling used for
// any other dataset.
func NewStoreDeadLetterSink(s *store.Store) DeadLetterSink {
	return &storeDeadLetterSink{s: s}
}

func (d *storeDeadLetterSink) WriteDeadLetter(ctx context.Context, events []Event) error {
	payload, err := json.Marshal(events)
	if err != nil {
		return classify.New(classify.DataInvalidInput, "encode dead-letter batch", err)
	}
	metadata := map[string]interface{}{
		"event_count": len(events),
	}
	if len(events) > 0 {
		metadata["run_id"] = events[0].RunID
	}
	_, err = d.s.PutItem(ctx, DeadLetterDataset, "metrics.collector", metadata, payload)
	if err != nil {
		return classify.New(classify.StorageIO, "write dead-letter batch", err)
	}
	return nil
}
