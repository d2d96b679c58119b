package registry

import (
	"sort"
	"time"
)

// LockedPlugin is one plugin entry in a lockfile
type LockedPlugin struct {
	Version        string `json:"version"`
	ContainerImage string `json:"container_image"`
	ContentHash    string `json:"content_hash"`
}

// LockedWorkflow is one workflow entry in a lockfile
type LockedWorkflow struct {
	Version     string   `json:"version"`
	StepPlugins []string `json:"step_plugins"`
	ContentHash string   `json:"content_hash"`
}

// Lockfile is a reproducibility snapshot of the registry
type Lockfile struct {
	GeneratedAt string                    `json:"generated_at"`
	Plugins     map[string]LockedPlugin   `json:"plugins"`
	Workflows   map[string]LockedWorkflow `json:"workflows"`
}

// Mismatch issue kinds reported by VerifyLockfile
const (
	IssueMissing        = "missing"
	IssueVersionChanged = "version_changed"
	IssueContentChanged = "content_changed"
)

// Mismatch describes one divergence between a lockfile and the live registry
type Mismatch struct {
	ID       string `json:"id"`
	Issue    string `json:"issue"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// VerifyReport is the result of checking a lockfile against the registry
type VerifyReport struct {
	Status    string     `json:"status"`
	Plugins   []Mismatch `json:"plugins"`
	Workflows []Mismatch `json:"workflows"`
}

// OK reports whether the registry matches the lockfile
func (r VerifyReport) OK() bool { return r.Status == "ok" }

// GenerateLockfile snapshots the current registry state
func (r *Registry) GenerateLockfile() Lockfile {
	s := r.snap()
	lf := Lockfile{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Plugins:     make(map[string]LockedPlugin, len(s.plugins)),
		Workflows:   make(map[string]LockedWorkflow, len(s.workflows)),
	}
	for id, p := range s.plugins {
		lf.Plugins[id] = LockedPlugin{
			Version:        p.Version,
			ContainerImage: p.Container.Image,
			ContentHash:    p.ContentHash,
		}
	}
	for id, w := range s.workflows {
		lf.Workflows[id] = LockedWorkflow{
			Version:     w.Version,
			StepPlugins: w.StepPlugins(),
			ContentHash: w.ContentHash,
		}
	}
	return lf
}

// VerifyLockfile compares a previously generated lockfile against the live
// registry, reporting missing, version_changed and content_changed entries
func (r *Registry) VerifyLockfile(lf Lockfile) VerifyReport {
	s := r.snap()
	report := VerifyReport{Status: "ok", Plugins: []Mismatch{}, Workflows: []Mismatch{}}

	pluginIDs := sortedKeys(lf.Plugins)
	for _, id := range pluginIDs {
		locked := lf.Plugins[id]
		p, ok := s.plugins[id]
		switch {
		case !ok:
			report.Plugins = append(report.Plugins, Mismatch{ID: id, Issue: IssueMissing, Expected: locked.Version})
		case p.Version != locked.Version:
			report.Plugins = append(report.Plugins, Mismatch{ID: id, Issue: IssueVersionChanged, Expected: locked.Version, Actual: p.Version})
		case p.ContentHash != locked.ContentHash:
			report.Plugins = append(report.Plugins, Mismatch{ID: id, Issue: IssueContentChanged, Expected: locked.ContentHash, Actual: p.ContentHash})
		}
	}

	workflowIDs := sortedKeys(lf.Workflows)
	for _, id := range workflowIDs {
		locked := lf.Workflows[id]
		w, ok := s.workflows[id]
		switch {
		case !ok:
			report.Workflows = append(report.Workflows, Mismatch{ID: id, Issue: IssueMissing, Expected: locked.Version})
		case w.Version != locked.Version:
			report.Workflows = append(report.Workflows, Mismatch{ID: id, Issue: IssueVersionChanged, Expected: locked.Version, Actual: w.Version})
		case w.ContentHash != locked.ContentHash:
			report.Workflows = append(report.Workflows, Mismatch{ID: id, Issue: IssueContentChanged, Expected: locked.ContentHash, Actual: w.ContentHash})
		}
	}

	if len(report.Plugins) > 0 || len(report.Workflows) > 0 {
		report.Status = "mismatch"
	}
	return report
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
