// policy/state.go
package policy

import (
	"fmt"
	"time"
)

// UnknownRegime is the reserved bucket for a missing or unrecognized regime
// label. Discretization never fails on bad input.
const UnknownRegime = "UNKNOWN"

// Bucket is an ordinal bucket for a continuous signal.
type Bucket string

const (
	BucketLow  Bucket = "LOW"
	BucketMed  Bucket = "MED"
	BucketHigh Bucket = "HIGH"
)

// RLState is a discretized decision context. It is an immutable value
// object; identical contexts always reduce to the same Hash.
type RLState struct {
	Regime             string `json:"regime"`
	HourBucket         int    `json:"hour_bucket"`
	ConfidenceBucket   Bucket `json:"confidence_bucket"`
	DisagreementBucket Bucket `json:"disagreement_bucket"`
}

// bucketize maps a [0,1] signal into LOW/MED/HIGH at fixed cut points.
func bucketize(v float64) Bucket {
	switch {
	case v < 0.4:
		return BucketLow
	case v < 0.7:
		return BucketMed
	default:
		return BucketHigh
	}
}

// Discretize maps a raw decision context into an RLState. Unknown regimes
// map to the reserved UNKNOWN bucket, timestamps to an hour-of-day bucket.
func Discretize(regime string, ts time.Time, confidence, disagreement float64) RLState {
	if regime == "" {
		regime = UnknownRegime
	}
	return RLState{
		Regime:             regime,
		HourBucket:         ts.UTC().Hour(),
		ConfidenceBucket:   bucketize(confidence),
		DisagreementBucket: bucketize(disagreement),
	}
}

// Hash reduces the state to a stable key. Field order is fixed, so the key
// is independent of construction order and safe to use as a table address.
func (s RLState) Hash() string {
	return fmt.Sprintf("%s|h%02d|c%s|d%s", s.Regime, s.HourBucket, s.ConfidenceBucket, s.DisagreementBucket)
}
