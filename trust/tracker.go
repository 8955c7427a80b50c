package trust

import (
	"encoding/json"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"pulse.dev/rtcore/classify"
	"pulse.dev/rtcore/common"
)

const shardCount = 32

// Config seeds the Beta prior shared by every lazily-created entity.
type Config struct {
	PriorAlpha float64
	PriorBeta  float64
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*Entity
}

// Tracker is the Trust Tracker: a single mutex-protected state, sharded by
// hash bucket so unrelated entities don't contend, with batch updates
// acquiring one shard's lock per distinct entity rather than per event
// (spec's "batch updates acquire the lock once" requirement).
type Tracker struct {
	cfg    Config
	shards [shardCount]*shard
	log    *common.ContextLogger
}

func New(cfg Config) *Tracker {
	if cfg.PriorAlpha <= 0 {
		cfg.PriorAlpha = 1
	}
	if cfg.PriorBeta <= 0 {
		cfg.PriorBeta = 1
	}
	t := &Tracker{cfg: cfg, log: common.ComponentLogger(common.Logger, "trust")}
	for i := range t.shards {
		t.shards[i] = &shard{entries: make(map[string]*Entity)}
	}
	return t
}

func shardIndex(entityID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(entityID))
	return int(h.Sum32() % shardCount)
}

func (t *Tracker) shardFor(entityID string) *shard {
	return t.shards[shardIndex(entityID)]
}

func (t *Tracker) getOrCreateLocked(sh *shard, entityID string) *Entity {
	e, ok := sh.entries[entityID]
	if !ok {
		e = &Entity{EntityID: entityID, Alpha: t.cfg.PriorAlpha, Beta: t.cfg.PriorBeta}
		sh.entries[entityID] = e
	}
	return e
}

func validateUpdate(u Update) error {
	if u.Successes < 0 || u.Failures < 0 {
		return classify.New(classify.DataInvalidInput, "negative successes or failures", nil)
	}
	if u.Successes+u.Failures <= 0 {
		return classify.New(classify.DataInvalidInput, "update carries no observations", nil)
	}
	if math.IsNaN(u.Weight) || math.IsInf(u.Weight, 0) || u.Weight <= 0 {
		return classify.New(classify.DataInvalidInput, "non-finite or non-positive weight", nil)
	}
	return nil
}

// Update folds one observation into entityID's posterior, creating the
// entity lazily with the configured prior if it doesn't exist yet.
func (t *Tracker) Update(entityID string, successes, failures, weight float64) error {
	return t.BatchUpdate([]Update{{EntityID: entityID, Successes: successes, Failures: failures, Weight: weight}})
}

// BatchUpdate aggregates updates by entity_id before touching any lock, so
// the hot path scales with distinct entities in the batch rather than the
// batch's total event count.
func (t *Tracker) BatchUpdate(updates []Update) error {
	type agg struct {
		successes, failures float64
	}
	byEntity := make(map[string]agg, len(updates))
	order := make([]string, 0, len(updates))

	for _, u := range updates {
		if u.Weight == 0 {
			u.Weight = 1
		}
		if err := validateUpdate(u); err != nil {
			return err
		}
		a, seen := byEntity[u.EntityID]
		if !seen {
			order = append(order, u.EntityID)
		}
		a.successes += u.Successes * u.Weight
		a.failures += u.Failures * u.Weight
		byEntity[u.EntityID] = a
	}

	now := time.Now().UTC()
	for _, entityID := range order {
		a := byEntity[entityID]
		sh := t.shardFor(entityID)
		sh.mu.Lock()
		e := t.getOrCreateLocked(sh, entityID)
		e.Alpha += a.successes
		e.Beta += a.failures
		e.SampleCount++
		e.LastUpdateAt = now
		sh.mu.Unlock()
	}
	return nil
}

// Get returns a copy of entityID's current estimate, or false if it has
// never been updated.
func (t *Tracker) Get(entityID string) (Entity, bool) {
	sh := t.shardFor(entityID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[entityID]
	if !ok {
		return Entity{}, false
	}
	return *e, true
}

// Mean returns the point estimate alpha/(alpha+beta), using the prior if
// the entity has never been updated.
func (t *Tracker) Mean(entityID string) float64 {
	if e, ok := t.Get(entityID); ok {
		return e.Mean()
	}
	return t.cfg.PriorAlpha / (t.cfg.PriorAlpha + t.cfg.PriorBeta)
}

// ConfidenceInterval returns the two-sided p-confidence Beta interval for
// entityID, e.g. p=0.95 for a 95% interval.
func (t *Tracker) ConfidenceInterval(entityID string, p float64) (float64, float64) {
	e, ok := t.Get(entityID)
	if !ok {
		e = Entity{Alpha: t.cfg.PriorAlpha, Beta: t.cfg.PriorBeta}
	}
	tail := (1 - p) / 2
	lo := betaQuantile(tail, e.Alpha, e.Beta)
	hi := betaQuantile(1-tail, e.Alpha, e.Beta)
	return lo, hi
}

// Decay multiplies (alpha-prior_alpha, beta-prior_beta) by factor,
// preserving the prior floor. entityID=="" decays every tracked entity.
func (t *Tracker) Decay(entityID string, factor float64) error {
	if factor <= 0 || factor > 1 {
		return classify.New(classify.DataInvalidInput, "decay factor must be in (0,1]", nil)
	}
	decayOne := func(e *Entity) {
		e.Alpha = t.cfg.PriorAlpha + (e.Alpha-t.cfg.PriorAlpha)*factor
		e.Beta = t.cfg.PriorBeta + (e.Beta-t.cfg.PriorBeta)*factor
	}
	if entityID != "" {
		sh := t.shardFor(entityID)
		sh.mu.Lock()
		if e, ok := sh.entries[entityID]; ok {
			decayOne(e)
		}
		sh.mu.Unlock()
		return nil
	}
	for _, sh := range t.shards {
		sh.mu.Lock()
		for _, e := range sh.entries {
			decayOne(e)
		}
		sh.mu.Unlock()
	}
	return nil
}

// snapshotDoc is the serialized form produced by Snapshot and consumed by
// Restore.
type snapshotDoc struct {
	PriorAlpha float64            `json:"prior_alpha"`
	PriorBeta  float64            `json:"prior_beta"`
	Entities   map[string]*Entity `json:"entities"`
}

// Snapshot serializes the entire tracker state as one atomic unit: all
// shards are locked together so a concurrent BatchUpdate is observed either
// fully or not at all, never partially.
func (t *Tracker) Snapshot() ([]byte, error) {
	for _, sh := range t.shards {
		sh.mu.Lock()
		defer sh.mu.Unlock()
	}

	doc := snapshotDoc{
		PriorAlpha: t.cfg.PriorAlpha,
		PriorBeta:  t.cfg.PriorBeta,
		Entities:   make(map[string]*Entity),
	}
	for _, sh := range t.shards {
		for id, e := range sh.entries {
			cp := *e
			doc.Entities[id] = &cp
		}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, classify.New(classify.DataIntegrity, "encode trust snapshot", err)
	}
	return data, nil
}

// Restore atomically replaces the tracker's state with a prior Snapshot.
func (t *Tracker) Restore(data []byte) error {
	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return classify.New(classify.DataIntegrity, "decode trust snapshot", err)
	}

	byShard := make([]map[string]*Entity, shardCount)
	for i := range byShard {
		byShard[i] = make(map[string]*Entity)
	}
	for id, e := range doc.Entities {
		cp := *e
		byShard[shardIndex(id)][id] = &cp
	}

	for _, sh := range t.shards {
		sh.mu.Lock()
		defer sh.mu.Unlock()
	}
	t.cfg.PriorAlpha = doc.PriorAlpha
	t.cfg.PriorBeta = doc.PriorBeta
	for i, sh := range t.shards {
		sh.entries = byShard[i]
	}
	t.log.WithField("entities", len(doc.Entities)).Info("trust state restored from snapshot")
	return nil
}

// Report summarizes every tracked entity's current estimate.
func (t *Tracker) Report() Report {
	rep := Report{Entities: make(map[string]EntitySummary)}
	for _, sh := range t.shards {
		sh.mu.Lock()
		for id, e := range sh.entries {
			lo, hi := func() (float64, float64) {
				tail := 0.025
				return betaQuantile(tail, e.Alpha, e.Beta), betaQuantile(1-tail, e.Alpha, e.Beta)
			}()
			rep.Entities[id] = EntitySummary{
				Mean:         e.Mean(),
				Samples:      e.SampleCount,
				CIWidth:      hi - lo,
				LastUpdateAt: e.LastUpdateAt,
			}
		}
		sh.mu.Unlock()
	}
	return rep
}
