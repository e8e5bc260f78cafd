package session

// DefaultCompactionThreshold is the fraction of context usage (0.0-1.0)
// that triggers the compacting status_change signal (SPEC_FULL C,
// grounded on the teacher's CompactionConfig.ContextThreshold).
const DefaultCompactionThreshold = 0.75

// CompactionPolicy watches a session's running context-used-% and
// decides when to signal compaction (SPEC_FULL C: "Context compaction
// signal"). The broker itself does not summarize history — that is a
// backend concern — it only gates the single-slot queue machinery
// while SessionState.Compacting is set.
type CompactionPolicy struct {
	Threshold float64
}

// NewCompactionPolicy creates a policy with threshold, falling back to
// DefaultCompactionThreshold when threshold is non-positive.
func NewCompactionPolicy(threshold float64) *CompactionPolicy {
	if threshold <= 0 {
		threshold = DefaultCompactionThreshold
	}
	return &CompactionPolicy{Threshold: threshold}
}

// ShouldCompact reports whether contextUsedPct (0.0-1.0) has crossed
// the policy's threshold.
func (p *CompactionPolicy) ShouldCompact(contextUsedPct float64) bool {
	return contextUsedPct >= p.Threshold
}
