/*
Package audit records operationally significant events as JSON lines in
daily files.

Submissions, cancellations, deletions, backend switches and registry
reloads all leave a dated entry. A bounded in-memory ring backs the
recent-events API, so reads never touch the files on the hot path and a
missing or unwritable audit directory degrades to ring-only operation.

# Usage

	aud, err := audit.New(cfg.DataDir)
	aud.Record("job_submitted", map[string]any{
		"job_id":  jobID,
		"backend": "slurm",
	})
	entries := aud.Recent(100, "job_submitted")

Record never returns an error; audit failures are logged and swallowed
because no job operation should fail over bookkeeping.

# File Layout

One file per day under <data_dir>/audit/, named audit-YYYY-MM-DD.jsonl,
one JSON object per line with timestamp, event, severity and details.
Files that outgrow the size cap are rotated aside with a time suffix.
*/
package audit
