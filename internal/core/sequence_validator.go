package core

import (
	"fmt"
)

// SequenceValidator validates source sequences per partition.
// Not thread-safe, only accessed from the single-threaded engine.
//
// Two modes exist. The oracle feed is strictly ordered: a gap means the
// delay attestation stream lost a message and processing must stop. The
// ops partition is monotonic-lenient: gaps are tolerated because clients
// assign sequences independently, stale values are ignored (idempotency
// already filtered duplicates).
type SequenceValidator struct {
	expectedNextSeq map[string]int64

	gaps       map[string]int64
	outOfOrder map[string]int64
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		gaps:            make(map[string]int64),
		outOfOrder:      make(map[string]int64),
	}
}

// ValidateStrict enforces contiguous ordering on a partition.
func (sv *SequenceValidator) ValidateStrict(
	partition string,
	sourceSequence int64,
	isDuplicate bool,
) error {
	expected := sv.expectedNextSeq[partition]

	if sourceSequence < expected {
		if isDuplicate {
			return nil
		}
		sv.outOfOrder[partition]++
		return fmt.Errorf("out-of-order command: partition=%s, expected=%d, got=%d",
			partition, expected, sourceSequence)
	}

	if sourceSequence == expected {
		sv.expectedNextSeq[partition] = expected + 1
		return nil
	}

	sv.gaps[partition]++
	return fmt.Errorf("sequence gap: partition=%s, expected=%d, got=%d",
		partition, expected, sourceSequence)
}

// ValidateMonotonic accepts any non-stale sequence, recording gaps.
func (sv *SequenceValidator) ValidateMonotonic(partition string, sourceSequence int64) error {
	expected := sv.expectedNextSeq[partition]

	if sourceSequence < expected {
		// Stale, idempotency layer already decided whether to process.
		return nil
	}

	if sourceSequence > expected+1 {
		sv.gaps[partition]++
	}

	sv.expectedNextSeq[partition] = sourceSequence + 1
	return nil
}

// GetExpectedSequence returns the next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// SetExpectedSequence initializes a partition (used during recovery)
func (sv *SequenceValidator) SetExpectedSequence(partition string, seq int64) {
	sv.expectedNextSeq[partition] = seq
}

// Partitions returns every partition's next expected sequence, for snapshots.
func (sv *SequenceValidator) Partitions() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for p, s := range sv.expectedNextSeq {
		out[p] = s
	}
	return out
}

// Gaps returns the gap count observed on a partition.
func (sv *SequenceValidator) Gaps(partition string) int64 {
	return sv.gaps[partition]
}
