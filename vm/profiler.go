package vm

// Profiler counts merge-point visits per loop key to find hot loops. A
// loop becomes hot on the visit that takes its count past HotThreshold.
// Counts restart from zero after Reset, which the Tracer calls whenever a
// recording starts, so every loop has to earn its recording afresh.

// LoopProfile holds profiling data for a single loop key.
type LoopProfile struct {
	Visits uint64 // visits since the last reset
	Total  uint64 // visits over the profiler's lifetime
	Hot    int    // times this loop crossed the threshold
}

// Profiler manages profiling for all loop keys seen by a Tracer.
type Profiler struct {
	profiles map[LoopKey]*LoopProfile

	// HotThreshold is the number of visits a loop may have before it is
	// considered hot.
	HotThreshold uint64

	// OnHot is called when a visit makes a loop hot.
	OnHot func(key LoopKey, profile *LoopProfile)

	// Statistics
	totalVisits uint64
	hotCount    uint64
	resets      uint64
}

// NewProfiler creates a profiler with the given threshold.
func NewProfiler(threshold uint64) *Profiler {
	return &Profiler{
		profiles:     make(map[LoopKey]*LoopProfile),
		HotThreshold: threshold,
	}
}

// Visit increments the count for key.
// Returns true if this visit caused the loop to become hot.
func (p *Profiler) Visit(key LoopKey) bool {
	profile, ok := p.profiles[key]
	if !ok {
		profile = &LoopProfile{}
		p.profiles[key] = profile
	}

	profile.Visits++
	profile.Total++
	p.totalVisits++

	if profile.Visits > p.HotThreshold {
		profile.Hot++
		p.hotCount++
		if p.OnHot != nil {
			p.OnHot(key, profile)
		}
		return true
	}
	return false
}

// Count returns the visits of key since the last reset.
func (p *Profiler) Count(key LoopKey) uint64 {
	if profile, ok := p.profiles[key]; ok {
		return profile.Visits
	}
	return 0
}

// Profile returns the profile for key, or nil if it was never visited.
func (p *Profiler) Profile(key LoopKey) *LoopProfile {
	return p.profiles[key]
}

// Reset clears the visit counts of every loop. Lifetime totals survive.
func (p *Profiler) Reset() {
	for _, profile := range p.profiles {
		profile.Visits = 0
	}
	p.resets++
}

// ProfilerStats holds aggregate profiling statistics.
type ProfilerStats struct {
	Loops       int    `yaml:"loops"`        // distinct loop keys seen
	TotalVisits uint64 `yaml:"total-visits"` // merge-point visits
	HotEvents   uint64 `yaml:"hot-events"`   // threshold crossings
	Resets      uint64 `yaml:"resets"`       // counter resets
}

// Stats returns aggregate profiling statistics.
func (p *Profiler) Stats() ProfilerStats {
	return ProfilerStats{
		Loops:       len(p.profiles),
		TotalVisits: p.totalVisits,
		HotEvents:   p.hotCount,
		Resets:      p.resets,
	}
}

// TopLoops returns the n most visited loop keys by lifetime total.
func (p *Profiler) TopLoops(n int) []LoopKey {
	type loopCount struct {
		key   LoopKey
		count uint64
	}

	if n < 0 {
		n = 0
	}
	all := make([]loopCount, 0, len(p.profiles))
	for key, profile := range p.profiles {
		all = append(all, loopCount{key, profile.Total})
	}

	// Simple selection sort for top N (fine for small N)
	for i := 0; i < n && i < len(all); i++ {
		maxIdx := i
		for j := i + 1; j < len(all); j++ {
			if all[j].count > all[maxIdx].count ||
				(all[j].count == all[maxIdx].count && all[j].key < all[maxIdx].key) {
				maxIdx = j
			}
		}
		all[i], all[maxIdx] = all[maxIdx], all[i]
	}

	result := make([]LoopKey, 0, n)
	for i := 0; i < n && i < len(all); i++ {
		result = append(result, all[i].key)
	}
	return result
}
