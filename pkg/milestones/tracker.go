package milestones

import (
	"regexp"
	"strings"
)

// Tracker turns a stream of log chunks into monotone progress updates.
// It advances by at most one milestone per chunk; further markers present in
// the same chunk fire on later chunks. Not safe for concurrent use: each job
// has exactly one tracker owned by its executor.
type Tracker struct {
	milestones []Milestone
	progress   int
	phase      string

	// workflow band: milestone percentages are rescaled into [lo, hi]
	lo, hi int
}

// NewTracker builds a tracker over the full 0-100 band
func NewTracker(milestones []Milestone) *Tracker {
	return &Tracker{milestones: milestones, lo: 0, hi: 100}
}

// NewBandTracker builds a tracker whose milestone percentages are linearly
// rescaled into [lo, hi]. Workflow step i of N owns the band
// [i/N*90, (i+1)/N*90].
func NewBandTracker(milestones []Milestone, lo, hi int) *Tracker {
	if hi <= lo {
		hi = lo + 1
	}
	return &Tracker{milestones: milestones, lo: lo, hi: hi, progress: lo}
}

// StepBand returns the progress band owned by step i of n in a workflow.
// The final 10% above 90 is reserved for post-processing.
func StepBand(i, n int) (lo, hi int) {
	if n < 1 {
		n = 1
	}
	return i * 90 / n, (i + 1) * 90 / n
}

// Progress returns the current progress value
func (t *Tracker) Progress() int { return t.progress }

// Phase returns the label of the last milestone reached
func (t *Tracker) Phase() string { return t.phase }

// Resume primes the tracker with progress already recorded for the job, so a
// redelivered task continues from where the previous worker left off
func (t *Tracker) Resume(progress int, phase string) {
	if progress > t.progress {
		t.progress = progress
		t.phase = phase
	}
}

// Observe scans one log chunk. The first not-yet-reached milestone whose
// marker matches advances progress; at most one milestone fires per chunk.
// Log text alone never drives progress to the top of the band: terminal
// markers stop one point short, and Complete commits the top once the zero
// exit code is in hand. Returns true when progress changed.
func (t *Tracker) Observe(chunk string) bool {
	for _, m := range t.milestones {
		pct := t.scale(m.Percentage)
		if pct >= t.hi {
			pct = t.hi - 1
		}
		if pct <= t.progress {
			continue
		}
		if !matches(m.Marker, chunk) {
			continue
		}
		t.progress = pct
		t.phase = m.Label
		return true
	}
	return false
}

// Complete forces progress to the top of the band. Called only after the
// container exit code has been observed as zero.
func (t *Tracker) Complete() {
	if t.hi > t.progress {
		t.progress = t.hi
	}
	t.phase = "Completed"
}

// scale maps a 0-100 milestone percentage into the tracker's band
func (t *Tracker) scale(pct int) int {
	return t.lo + pct*(t.hi-t.lo)/100
}

// matches tries the marker as a regular expression first; an invalid regex
// falls back to a plain substring match
func matches(marker, chunk string) bool {
	re, err := regexp.Compile(marker)
	if err != nil {
		return strings.Contains(chunk, marker)
	}
	return re.MatchString(chunk)
}
