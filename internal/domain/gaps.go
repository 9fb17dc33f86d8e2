package domain

import (
	"sort"
	"time"
)

// FindGaps compares the timestamps actually present against the sampling
// grid of w (one expected sample every step, from Start through End) and
// returns the missing stretches as windows. Consecutive missing samples
// collapse into one window whose bounds are the first and last absent
// timestamp. Present timestamps are snapped to the grid, so sub-step jitter
// does not open false gaps.
func FindGaps(present []time.Time, w Window, step time.Duration) []Window {
	seen := make(map[time.Time]struct{}, len(present))
	for _, t := range present {
		seen[t.UTC().Truncate(step)] = struct{}{}
	}

	var (
		gaps []Window
		gap  Window
		open bool
	)
	for t := w.Start.UTC().Truncate(step); !t.After(w.End); t = t.Add(step) {
		if _, ok := seen[t]; ok {
			if open {
				gaps = append(gaps, gap)
				open = false
			}
			continue
		}
		if open {
			gap.End = t
		} else {
			gap = Window{Start: t, End: t}
			open = true
		}
	}
	if open {
		gaps = append(gaps, gap)
	}
	return gaps
}

// MergeWindows sorts windows by start and coalesces any that overlap or
// touch. Gap scans over several locations produce overlapping windows; one
// fetch per merged window covers them all.
func MergeWindows(windows []Window) []Window {
	if len(windows) < 2 {
		return windows
	}
	sorted := make([]Window, len(windows))
	copy(sorted, windows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	merged := sorted[:1]
	for _, w := range sorted[1:] {
		last := &merged[len(merged)-1]
		if !w.Start.After(last.End) {
			if w.End.After(last.End) {
				last.End = w.End
			}
			continue
		}
		merged = append(merged, w)
	}
	return merged
}
