package models

import (
	"encoding/json"
	"hash/fnv"
	"sort"
	"time"
)

// Sample is one numeric observation on a metric. Samples are append-only:
// never updated, only pruned by retention.
type Sample struct {
	ID         int64             `json:"id"         db:"id"`
	MetricID   int64             `json:"metric_id"  db:"metric_id"`
	Value      float64           `json:"value"      db:"value"`
	Timestamp  time.Time         `json:"timestamp"  db:"timestamp"`
	Labels     map[string]string `json:"labels,omitempty" db:"-"`
	LabelsRaw  string            `json:"-"          db:"labels"` // JSON-encoded, stored in DB
	LabelsHash uint64            `json:"-"          db:"labels_hash"`
}

// EncodeLabels serializes Labels and computes LabelsHash for storage.
func (s *Sample) EncodeLabels() error {
	s.LabelsHash = HashLabels(s.Labels)
	if len(s.Labels) == 0 {
		s.LabelsRaw = "{}"
		return nil
	}
	b, err := json.Marshal(s.Labels)
	if err != nil {
		return err
	}
	s.LabelsRaw = string(b)
	return nil
}

// DecodeLabels populates Labels from LabelsRaw after a read.
func (s *Sample) DecodeLabels() error {
	if s.LabelsRaw == "" || s.LabelsRaw == "{}" {
		s.Labels = nil
		return nil
	}
	return json.Unmarshal([]byte(s.LabelsRaw), &s.Labels)
}

// HashLabels returns a stable 64-bit hash of a label set. The hash keys a
// single series within a metric: identical label sets always hash equal.
func HashLabels(labels map[string]string) uint64 {
	if len(labels) == 0 {
		return 0
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := fnv.New64a()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(labels[k]))
		h.Write([]byte{0xff})
	}
	return h.Sum64()
}

// MatchLabels reports whether the sample's labels satisfy every key=value
// constraint in match. A nil match selects all samples.
func (s *Sample) MatchLabels(match map[string]string) bool {
	for k, v := range match {
		if s.Labels[k] != v {
			return false
		}
	}
	return true
}

// Aggregation names a way of folding samples into bucket values.
type Aggregation string

const (
	AggSum  Aggregation = "sum"
	AggAvg  Aggregation = "avg"
	AggMin  Aggregation = "min"
	AggMax  Aggregation = "max"
	AggLast Aggregation = "last"
	// AggRate is (last-first)/window_seconds restricted to a single series,
	// reset-aware and never negative.
	AggRate Aggregation = "rate"
)

// Valid reports whether a is a known aggregation.
func (a Aggregation) Valid() bool {
	switch a {
	case AggSum, AggAvg, AggMin, AggMax, AggLast, AggRate:
		return true
	default:
		return false
	}
}

// BucketValue is one aggregated point in a query answer. BucketStart is the
// inclusive start of a right-open interval aligned to the UTC epoch.
type BucketValue struct {
	BucketStart time.Time `json:"bucket_start"`
	Value       float64   `json:"value"`
}

// SampleQuery selects and folds samples for one metric.
type SampleQuery struct {
	MetricID   int64
	From       time.Time
	To         time.Time
	LabelMatch map[string]string
	Agg        Aggregation
	Bucket     time.Duration // 0 means one bucket covering [From, To)
}
