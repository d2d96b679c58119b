/*
Package results is the read-only projection over a job's output tree.

It serves file listing and classification, volume and segmentation
discovery, label tables, metrics extraction, archive export and
provenance. Nothing here mutates job state; the projection only reads the
store row to locate the output root and then works against the
filesystem.

# Path Safety

Every operation that accepts a relative path resolves it against the
job's output root and refuses results that escape it, returning
ErrPathEscape. The staged inputs under _inputs/ are excluded from every
listing and from exports; inputs are the user's data coming back out, not
a result.

# File Classification

Files classify by extension: volumes (.nii, .nii.gz, .mgz, .mgh),
metadata (.json), metrics (.stats, .csv, .tsv), images, reports (.html,
.pdf), logs, and a generic fallback. Volume and segmentation discovery
prefer well-known pipeline output names and fall back to any NIfTI file.

# Metrics Extraction

FreeSurfer .stats files parse into named measures ("# Measure" lines) and
tabular rows ("# ColHeaders" plus data lines), with numeric coercion.
Color lookup tables parse into label id/name/color entries. CSV and TSV
outputs are surfaced as table paths for the client to fetch directly.

# Export and Provenance

Export streams a tar.gz of the output tree. Provenance combines the
submission record written at run time (job_spec.json) with row timing and
SHA-256 digests of the surviving staged inputs, enough to reproduce the
run or explain where a result came from.

# Integration Points

  - pkg/api: all /api/results routes
  - pkg/store: output-root lookup
*/
package results
