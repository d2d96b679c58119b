package milestones

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForPlugin(t *testing.T) {
	assert.Len(t, ForPlugin("freesurfer_recon"), 35)
	assert.Equal(t, ForPlugin("freesurfer_recon"), ForPlugin("freesurfer_recon_long"))
	assert.Equal(t, ForPlugin("fastsurfer"), ForPlugin("fastsurfer_seg"))

	gen := ForPlugin("some_unknown_plugin")
	require.Len(t, gen, 5)
	assert.Equal(t, "Starting", gen[0].Marker)
	assert.Equal(t, 100, gen[4].Percentage)
}

func TestTrackerAdvancesOneMilestonePerChunk(t *testing.T) {
	tr := NewTracker(ForPlugin("unknown"))

	// Chunk contains two markers; only the first fires now
	advanced := tr.Observe("Starting run\nProcessing subject 01\n")
	require.True(t, advanced)
	assert.Equal(t, 5, tr.Progress())
	assert.Equal(t, "Initializing", tr.Phase())

	// The second marker fires on the next chunk even if it is old output
	advanced = tr.Observe("Processing subject 01\n")
	require.True(t, advanced)
	assert.Equal(t, 25, tr.Progress())
	assert.Equal(t, "Processing", tr.Phase())
}

func TestTrackerProgressNeverDecreases(t *testing.T) {
	tr := NewTracker(ForPlugin("unknown"))
	tr.Observe("Running main loop")
	require.Equal(t, 50, tr.Progress())

	// Earlier markers appearing later must not move progress backwards
	assert.False(t, tr.Observe("Starting something else"))
	assert.Equal(t, 50, tr.Progress())
}

func TestTrackerRegexAndSubstringMarkers(t *testing.T) {
	tr := NewTracker([]Milestone{
		{Marker: "recon-all.*finished", Percentage: 50, Label: "regex"},
		{Marker: "a(b", Percentage: 75, Label: "substring fallback"},
	})

	require.True(t, tr.Observe("recon-all -s subj finished without error"))
	assert.Equal(t, 50, tr.Progress())

	// Invalid regex falls back to literal substring match
	require.True(t, tr.Observe("literal a(b marker"))
	assert.Equal(t, 75, tr.Progress())
	assert.Equal(t, "substring fallback", tr.Phase())
}

func TestTrackerNoMatch(t *testing.T) {
	tr := NewTracker(ForPlugin("unknown"))
	assert.False(t, tr.Observe("nothing interesting here"))
	assert.Equal(t, 0, tr.Progress())
	assert.Equal(t, "", tr.Phase())
}

func TestTrackerResume(t *testing.T) {
	tr := NewTracker(ForPlugin("unknown"))
	tr.Resume(50, "Running")
	assert.Equal(t, 50, tr.Progress())

	// Resume never rewinds
	tr.Resume(25, "Processing")
	assert.Equal(t, 50, tr.Progress())
	assert.Equal(t, "Running", tr.Phase())
}

func TestStepBand(t *testing.T) {
	tests := []struct {
		i, n   int
		lo, hi int
	}{
		{0, 2, 0, 45},
		{1, 2, 45, 90},
		{0, 3, 0, 30},
		{2, 3, 60, 90},
		{0, 1, 0, 90},
	}
	for _, tt := range tests {
		lo, hi := StepBand(tt.i, tt.n)
		assert.Equal(t, tt.lo, lo, "step %d of %d", tt.i, tt.n)
		assert.Equal(t, tt.hi, hi, "step %d of %d", tt.i, tt.n)
	}
}

func TestBandTrackerRescalesMilestones(t *testing.T) {
	lo, hi := StepBand(1, 2) // 45..90
	tr := NewBandTracker(ForPlugin("unknown"), lo, hi)
	assert.Equal(t, 45, tr.Progress())

	// Running is 50% of the band: 45 + 50*45/100 = 67
	require.True(t, tr.Observe("Running"))
	assert.Equal(t, 67, tr.Progress())

	tr.Complete()
	assert.Equal(t, 90, tr.Progress())
}

func TestTrackerComplete(t *testing.T) {
	tr := NewTracker(ForPlugin("unknown"))
	tr.Observe("Writing outputs now")
	require.Equal(t, 75, tr.Progress())

	tr.Complete()
	assert.Equal(t, 100, tr.Progress())
	assert.Equal(t, "Completed", tr.Phase())
}

func TestObserveAloneNeverReaches100(t *testing.T) {
	tr := NewTracker(ForPlugin("unknown"))

	// The terminal marker in the log stops one point short; only Complete,
	// called once the zero exit code is observed, commits 100
	require.True(t, tr.Observe("run completed without error"))
	assert.Equal(t, 99, tr.Progress())

	assert.False(t, tr.Observe("run completed without error"))
	assert.Equal(t, 99, tr.Progress())

	tr.Complete()
	assert.Equal(t, 100, tr.Progress())
	assert.Equal(t, "Completed", tr.Phase())
}

func TestObserveTerminalMarkerMidRun(t *testing.T) {
	// The generic table's bare "completed" marker matches incidental log
	// text; a still-running job must not report as done
	tr := NewTracker(ForPlugin("some_unknown_plugin"))
	require.True(t, tr.Observe("step 1 completed, moving on"))
	assert.Less(t, tr.Progress(), 100)
}

func TestBandObserveStaysBelowBandTop(t *testing.T) {
	lo, hi := StepBand(1, 2) // 45..90
	tr := NewBandTracker(ForPlugin("fastsurfer"), lo, hi)

	require.True(t, tr.Observe("FastSurfer completed"))
	assert.Less(t, tr.Progress(), hi)

	tr.Complete()
	assert.Equal(t, hi, tr.Progress())
}
