package heap

import "sync"

// TriggerPolicy decides when to start a collection cycle. The trigger
// is adaptive: the usage ratio is compared against the base threshold
// scaled by the recent growth rate, so a rapidly growing heap trips
// the trigger at a different point than a stable one. Evaluated after
// every region retirement.
type TriggerPolicy struct {
	mu            sync.Mutex
	baseThreshold float64
	growthFactor  float64
	lastUsage     uint64
}

func newTriggerPolicy(baseThreshold, growthFactor float64) *TriggerPolicy {
	return &TriggerPolicy{baseThreshold: baseThreshold, growthFactor: growthFactor}
}

// ShouldCollect evaluates usageRatio > baseThreshold * (1 +
// growthFactor * growthRate), with growthRate measured against the
// usage recorded at the end of the previous cycle.
func (t *TriggerPolicy) ShouldCollect(usage, budget uint64) bool {
	if budget == 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	ratio := float64(usage) / float64(budget)
	growthRate := 0.0
	if t.lastUsage > 0 {
		growthRate = (float64(usage) - float64(t.lastUsage)) / float64(t.lastUsage)
	}
	return ratio > t.baseThreshold*(1+t.growthFactor*growthRate)
}

// observeCycle records the post-collection usage as the new growth
// baseline.
func (t *TriggerPolicy) observeCycle(usage uint64) {
	t.mu.Lock()
	t.lastUsage = usage
	t.mu.Unlock()
}
