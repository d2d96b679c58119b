package results

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/neuroinsight/neuroinsight/pkg/store"
)

var (
	// ErrJobNotFound is returned for unknown job ids
	ErrJobNotFound = errors.New("job not found")
	// ErrPathEscape is returned when a requested path leaves the output root
	ErrPathEscape = errors.New("path escapes the job output directory")
	// ErrNoOutput is returned when the job has no output directory yet
	ErrNoOutput = errors.New("job has no output directory")
)

// FileEntry describes one classified output file
type FileEntry struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	SizeHuman string `json:"size_human"`
}

// LabelEntry is one row of a segmentation label table
type LabelEntry struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Color [3]int `json:"color"`
}

// Metrics aggregates everything the metrics endpoint returns
type Metrics struct {
	Values map[string]any `json:"values"`
	Tables []string       `json:"tables"`
}

// Projection reads job outputs through the store's output-dir pointer
type Projection struct {
	store store.Store
}

// New creates a results projection
func New(st store.Store) *Projection {
	return &Projection{store: st}
}

// outputRoot resolves and validates the job's output directory
func (p *Projection) outputRoot(ctx context.Context, jobID string) (string, error) {
	job, err := p.store.Get(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if job.OutputDir == "" {
		return "", ErrNoOutput
	}
	root, err := filepath.Abs(job.OutputDir)
	if err != nil {
		return "", err
	}
	return root, nil
}

// resolve joins a user-supplied relative path against the root, rejecting
// any result outside it
func resolve(root, rel string) (string, error) {
	joined := filepath.Join(root, filepath.FromSlash(rel))
	cleaned := filepath.Clean(joined)
	if cleaned != root && !strings.HasPrefix(cleaned, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, rel)
	}
	return cleaned, nil
}

// ListFiles walks the output tree, excluding _inputs/, and classifies every
// file by extension
func (p *Projection) ListFiles(ctx context.Context, jobID string) ([]FileEntry, error) {
	root, err := p.outputRoot(ctx, jobID)
	if err != nil {
		return nil, err
	}

	var entries []FileEntry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == "_inputs" {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		entries = append(entries, FileEntry{
			Name:      d.Name(),
			Type:      Classify(d.Name()),
			Path:      filepath.ToSlash(rel),
			SizeBytes: info.Size(),
			SizeHuman: humanize.IBytes(uint64(info.Size())),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Classify maps a filename to the coarse UI type
func Classify(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".nii"), strings.HasSuffix(lower, ".nii.gz"),
		strings.HasSuffix(lower, ".mgz"), strings.HasSuffix(lower, ".mgh"):
		return "volume"
	case strings.HasSuffix(lower, ".json"):
		return "metadata"
	case strings.HasSuffix(lower, ".stats"), strings.HasSuffix(lower, ".csv"),
		strings.HasSuffix(lower, ".tsv"):
		return "metrics"
	case strings.HasSuffix(lower, ".png"), strings.HasSuffix(lower, ".jpg"),
		strings.HasSuffix(lower, ".jpeg"), strings.HasSuffix(lower, ".svg"),
		strings.HasSuffix(lower, ".gif"):
		return "image"
	case strings.HasSuffix(lower, ".html"), strings.HasSuffix(lower, ".pdf"):
		return "report"
	case strings.HasSuffix(lower, ".log"), strings.HasSuffix(lower, ".txt"):
		return "log"
	default:
		return "file"
	}
}

var volumeNameMarkers = []string{"norm.nii", "t1w.nii", "brain.nii", "anatomy.nii", "orig.nii"}

var segmentationNameMarkers = []string{"aseg.nii", "aparc", "segmentation.nii", "labels.nii", "dseg.nii"}

// Volumes returns anatomical volumes by well-known name, falling back to any
// NIfTI file when nothing matches
func (p *Projection) Volumes(ctx context.Context, jobID string) ([]FileEntry, error) {
	files, err := p.ListFiles(ctx, jobID)
	if err != nil {
		return nil, err
	}
	var matched []FileEntry
	for _, f := range files {
		if nameContainsAny(f.Name, volumeNameMarkers) {
			matched = append(matched, f)
		}
	}
	if len(matched) > 0 {
		return matched, nil
	}
	for _, f := range files {
		lower := strings.ToLower(f.Name)
		if strings.HasSuffix(lower, ".nii") || strings.HasSuffix(lower, ".nii.gz") {
			matched = append(matched, f)
		}
	}
	return matched, nil
}

// Segmentations returns label volumes by well-known name
func (p *Projection) Segmentations(ctx context.Context, jobID string) ([]FileEntry, error) {
	files, err := p.ListFiles(ctx, jobID)
	if err != nil {
		return nil, err
	}
	var matched []FileEntry
	for _, f := range files {
		if nameContainsAny(f.Name, segmentationNameMarkers) {
			matched = append(matched, f)
		}
	}
	return matched, nil
}

func nameContainsAny(name string, markers []string) bool {
	lower := strings.ToLower(name)
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Labels returns the segmentation label table: the first *labels*.json file
// decoded, else the first FreeSurfer-style color LUT parsed
func (p *Projection) Labels(ctx context.Context, jobID string) ([]LabelEntry, error) {
	root, err := p.outputRoot(ctx, jobID)
	if err != nil {
		return nil, err
	}

	var jsonPath, lutPath string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == "_inputs" {
				return filepath.SkipDir
			}
			return nil
		}
		lower := strings.ToLower(d.Name())
		if jsonPath == "" && strings.Contains(lower, "labels") && strings.HasSuffix(lower, ".json") {
			jsonPath = path
		}
		if lutPath == "" && (strings.Contains(lower, "lut") || strings.Contains(lower, "colortable")) {
			lutPath = path
		}
		return nil
	})

	if jsonPath != "" {
		raw, err := os.ReadFile(jsonPath)
		if err != nil {
			return nil, err
		}
		var entries []LabelEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("decode %s: %w", filepath.Base(jsonPath), err)
		}
		return entries, nil
	}
	if lutPath != "" {
		raw, err := os.ReadFile(lutPath)
		if err != nil {
			return nil, err
		}
		return ParseColorLUT(string(raw)), nil
	}
	return nil, nil
}

var metricsJSONPrefixes = []string{"metrics", "stats", "summary"}

// Metrics decodes the JSON metric files, parses every .stats file, and lists
// the tabular files for the UI to fetch directly
func (p *Projection) Metrics(ctx context.Context, jobID string) (*Metrics, error) {
	root, err := p.outputRoot(ctx, jobID)
	if err != nil {
		return nil, err
	}

	out := &Metrics{Values: map[string]any{}}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == "_inputs" {
				return filepath.SkipDir
			}
			return nil
		}
		lower := strings.ToLower(d.Name())
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}

		switch {
		case isMetricsJSON(lower):
			raw, err := os.ReadFile(path)
			if err != nil {
				return nil
			}
			var decoded map[string]any
			if json.Unmarshal(raw, &decoded) == nil {
				out.Values[filepath.ToSlash(rel)] = decoded
			}
		case strings.HasSuffix(lower, ".stats"):
			raw, err := os.ReadFile(path)
			if err != nil {
				return nil
			}
			if parsed := ParseStats(string(raw)); len(parsed) > 0 {
				out.Values[filepath.ToSlash(rel)] = parsed
			}
		case strings.HasSuffix(lower, ".csv"), strings.HasSuffix(lower, ".tsv"):
			out.Tables = append(out.Tables, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func isMetricsJSON(name string) bool {
	if !strings.HasSuffix(name, ".json") {
		return false
	}
	for _, prefix := range metricsJSONPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return strings.HasSuffix(name, "_stats.json")
}

// Download resolves a file for streaming and returns its absolute path plus
// a best-effort media type
func (p *Projection) Download(ctx context.Context, jobID, filePath string) (string, string, error) {
	root, err := p.outputRoot(ctx, jobID)
	if err != nil {
		return "", "", err
	}
	abs, err := resolve(root, filePath)
	if err != nil {
		return "", "", err
	}
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		return "", "", fmt.Errorf("%w: %s", ErrJobNotFound, filePath)
	}
	return abs, MediaType(abs), nil
}

// MediaType guesses a content type from the extension
func MediaType(p string) string {
	lower := strings.ToLower(p)
	switch {
	case strings.HasSuffix(lower, ".nii.gz"), strings.HasSuffix(lower, ".gz"),
		strings.HasSuffix(lower, ".tgz"):
		return "application/gzip"
	case strings.HasSuffix(lower, ".json"):
		return "application/json"
	case strings.HasSuffix(lower, ".html"):
		return "text/html"
	case strings.HasSuffix(lower, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(lower, ".svg"):
		return "image/svg+xml"
	case strings.HasSuffix(lower, ".csv"):
		return "text/csv"
	case strings.HasSuffix(lower, ".txt"), strings.HasSuffix(lower, ".log"),
		strings.HasSuffix(lower, ".stats"), strings.HasSuffix(lower, ".tsv"):
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

// Export writes a gzip tar archive of the output tree, excluding _inputs/,
// to w
func (p *Projection) Export(ctx context.Context, jobID string, w io.Writer) error {
	root, err := p.outputRoot(ctx, jobID)
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == "_inputs" {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, f)
		f.Close()
		return err
	})
	if err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

// Provenance merges the persisted submission record, the row's timing and a
// digest of every input file that still exists locally
func (p *Projection) Provenance(ctx context.Context, jobID string) (map[string]any, error) {
	job, err := p.store.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	out := map[string]any{
		"job_id":       job.ID,
		"backend_type": job.BackendType,
		"status":       job.Status,
		"submitted_at": job.SubmittedAt,
		"started_at":   job.StartedAt,
		"completed_at": job.CompletedAt,
	}
	if job.Status.IsTerminal() || job.StartedAt != nil {
		out["runtime_seconds"] = job.RuntimeSeconds()
	}

	if job.OutputDir != "" {
		if raw, err := os.ReadFile(filepath.Join(job.OutputDir, "job_spec.json")); err == nil {
			var spec map[string]any
			if json.Unmarshal(raw, &spec) == nil {
				out["submission"] = spec
			}
		}
	}

	digests := map[string]string{}
	for _, input := range job.InputFiles {
		sum, err := fileSHA256(input)
		if err != nil {
			continue
		}
		digests[input] = sum
	}
	out["input_digests"] = digests
	return out, nil
}

func fileSHA256(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
