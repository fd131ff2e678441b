package engine

import "time"

// floodControl is a sliding window over the session's own sends.
// Guarded by the registry mutex.
type floodControl struct {
	max    int
	window time.Duration
	times  []time.Time
}

func (f *floodControl) allow(now time.Time) bool {
	if f.max <= 0 || f.window <= 0 {
		return true
	}
	cutoff := now.Add(-f.window)
	i := 0
	for _, t := range f.times {
		if t.After(cutoff) {
			f.times[i] = t
			i++
		}
	}
	f.times = f.times[:i]
	if len(f.times) >= f.max {
		return false
	}
	f.times = append(f.times, now)
	return true
}
