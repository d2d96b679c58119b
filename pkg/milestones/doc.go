/*
Package milestones maps container log evidence to monotone job progress.

Neuroimaging pipelines run for hours and print recognisable phase markers
as they go ("Talairach transform", "white surface", "recon-all finished").
Each plugin has an ordered list of (marker, percentage, label) milestones;
the percentages are hand-tuned constants weighted by typical wall-clock
time per phase, never computed dynamically.

# Tracker Semantics

A Tracker accumulates log chunks and advances by at most one milestone per
Observe call, so a burst of log output cannot jump progress to the end.
Progress is monotone: a marker for an earlier milestone than the current
one is ignored. The top of the band is exit-gated: Observe stops one point
short of it even for terminal markers, and only Complete, called after the
zero exit code is observed, commits the top. Band trackers (NewBandTracker,
StepBand) rescale milestone percentages into a [lo, hi] window, which is
how workflow steps each own a slice of the overall progress bar.

# Usage

	tracker := milestones.NewTracker(milestones.ForPlugin("freesurfer_recon"))
	for chunk := range logChunks {
		if tracker.Observe(chunk) {
			store.UpdateProgress(ctx, jobID, tracker.Progress(), tracker.Phase())
		}
	}

Resume(progress, phase) fast-forwards a fresh tracker past milestones
already reached, used when a worker restarts and re-attaches to a running
container.

ForPlugin returns a generic started/half/finishing ladder for plugins
without a curated list, so progress still moves for unknown pipelines.

# Integration Points

  - pkg/executor: feeds the container log pump into a tracker
  - pkg/backend: the SLURM backend replays the remote container log
    through a tracker on each Info poll
*/
package milestones
