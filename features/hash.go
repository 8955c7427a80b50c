package features

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// canonicalJSON renders v deterministically by round-tripping through a
// generic value and sorting map keys at every level, the same approach
// store/hash.go uses for item metadata, so two logically-equal pipelines
// built in different field orders hash identically.
func canonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(canonicalize(generic))
}

func canonicalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make([]struct {
			Key   string      `json:"k"`
			Value interface{} `json:"v"`
		}, len(keys))
		for i, k := range keys {
			ordered[i].Key = k
			ordered[i].Value = canonicalize(t[k])
		}
		return ordered
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = canonicalize(e)
		}
		return out
	default:
		return t
	}
}

func hashOf(parts ...interface{}) (string, error) {
	h := sha256.New()
	for _, p := range parts {
		canon, err := canonicalJSON(p)
		if err != nil {
			return "", err
		}
		h.Write(canon)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// PipelineID identifies a pipeline's shape: its ordered step ids and
// versions, independent of parameters.
func (p Pipeline) PipelineID() (string, error) {
	shape := make([]struct {
		StepID      string `json:"step_id"`
		StepVersion string `json:"step_version"`
	}, len(p.Steps))
	for i, s := range p.Steps {
		shape[i].StepID = s.StepID
		shape[i].StepVersion = s.StepVersion
	}
	return hashOf(shape)
}

// PipelineVersion folds in step parameters on top of PipelineID, so any
// parameter change invalidates cached features without explicit
// bookkeeping.
func (p Pipeline) PipelineVersion() (string, error) {
	return hashOf(p.Steps)
}

// featureID derives the cache key for a (items, pipeline) computation.
func featureID(itemIDs []string, pipelineID, pipelineVersion string, params []map[string]interface{}) (string, error) {
	sorted := append([]string(nil), itemIDs...)
	sort.Strings(sorted)
	return hashOf(sorted, pipelineID, pipelineVersion, params)
}
