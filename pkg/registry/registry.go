package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/neuroinsight/neuroinsight/pkg/log"
)

// snapshot is one immutable view of the loaded registry. Readers take the
// pointer once; Reload swaps in a fresh snapshot.
type snapshot struct {
	plugins   map[string]*Plugin
	workflows map[string]*Workflow
}

// Registry loads plugin and workflow definitions from YAML directories and
// serves them to the rest of the system
type Registry struct {
	pluginsDir   string
	workflowsDir string
	current      atomic.Pointer[snapshot]
}

// New creates a registry and performs the initial load. Malformed files are
// logged and skipped; they never prevent startup.
func New(pluginsDir, workflowsDir string) (*Registry, error) {
	r := &Registry{pluginsDir: pluginsDir, workflowsDir: workflowsDir}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload rebuilds the registry from disk and atomically swaps it in.
// Concurrent readers observe either the fully-old or fully-new state.
func (r *Registry) Reload() error {
	logger := log.WithComponent("registry")

	snap := &snapshot{
		plugins:   make(map[string]*Plugin),
		workflows: make(map[string]*Workflow),
	}

	for _, path := range yamlFiles(r.pluginsDir) {
		p, err := loadPlugin(path)
		if err != nil {
			logger.Warn().Err(err).Str("file", path).Msg("skipping malformed plugin file")
			continue
		}
		snap.plugins[p.ID] = p
	}
	for _, path := range yamlFiles(r.workflowsDir) {
		w, err := loadWorkflow(path)
		if err != nil {
			logger.Warn().Err(err).Str("file", path).Msg("skipping malformed workflow file")
			continue
		}
		snap.workflows[w.ID] = w
	}

	// Unresolved step references are reported but do not abort the load
	for _, w := range snap.workflows {
		for _, step := range w.Steps {
			if _, ok := snap.plugins[step.Uses]; !ok {
				logger.Error().
					Str("workflow", w.ID).
					Str("step", step.ID).
					Str("uses", step.Uses).
					Msg("workflow step references unknown plugin")
			}
		}
	}

	r.current.Store(snap)
	logger.Info().
		Int("plugins", len(snap.plugins)).
		Int("workflows", len(snap.workflows)).
		Msg("registry loaded")
	return nil
}

func (r *Registry) snap() *snapshot {
	if s := r.current.Load(); s != nil {
		return s
	}
	return &snapshot{plugins: map[string]*Plugin{}, workflows: map[string]*Workflow{}}
}

// GetPlugin returns the plugin with the given id, or false
func (r *Registry) GetPlugin(id string) (*Plugin, bool) {
	p, ok := r.snap().plugins[id]
	return p, ok
}

// ListPlugins returns plugins sorted by id. When userSelectableOnly is set,
// workflow-internal utility plugins are filtered out.
func (r *Registry) ListPlugins(userSelectableOnly bool) []*Plugin {
	s := r.snap()
	out := make([]*Plugin, 0, len(s.plugins))
	for _, p := range s.plugins {
		if userSelectableOnly && !p.Visibility.UserSelectable {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetWorkflow returns the workflow with the given id, or false
func (r *Registry) GetWorkflow(id string) (*Workflow, bool) {
	w, ok := r.snap().workflows[id]
	return w, ok
}

// ListWorkflows returns workflows sorted by id
func (r *Registry) ListWorkflows() []*Workflow {
	s := r.snap()
	out := make([]*Workflow, 0, len(s.workflows))
	for _, w := range s.workflows {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PluginVersions returns id → version for every loaded plugin
func (r *Registry) PluginVersions() map[string]string {
	s := r.snap()
	out := make(map[string]string, len(s.plugins))
	for id, p := range s.plugins {
		out[id] = p.Version
	}
	return out
}

// WorkflowVersions returns id → version for every loaded workflow
func (r *Registry) WorkflowVersions() map[string]string {
	s := r.snap()
	out := make(map[string]string, len(s.workflows))
	for id, w := range s.workflows {
		out[id] = w.Version
	}
	return out
}

// ResolveWorkflowPlugins returns the plugin for each step, failing on the
// first unresolved reference
func (r *Registry) ResolveWorkflowPlugins(w *Workflow) ([]*Plugin, error) {
	s := r.snap()
	out := make([]*Plugin, 0, len(w.Steps))
	for _, step := range w.Steps {
		p, ok := s.plugins[step.Uses]
		if !ok {
			return nil, fmt.Errorf("workflow %s step %s: unknown plugin %q", w.ID, step.ID, step.Uses)
		}
		out = append(out, p)
	}
	return out, nil
}

func yamlFiles(dir string) []string {
	var out []string
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out
}

func loadPlugin(path string) (*Plugin, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Plugin
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if p.Type != "plugin" {
		return nil, fmt.Errorf("%s: type is %q, want plugin", filepath.Base(path), p.Type)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("%s: missing plugin id", filepath.Base(path))
	}
	hash, err := contentHash(raw)
	if err != nil {
		return nil, err
	}
	p.ContentHash = hash
	p.sourcePath = path
	return &p, nil
}

func loadWorkflow(path string) (*Workflow, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var w Workflow
	if err := yaml.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if w.Type != "workflow" {
		return nil, fmt.Errorf("%s: type is %q, want workflow", filepath.Base(path), w.Type)
	}
	if w.ID == "" {
		return nil, fmt.Errorf("%s: missing workflow id", filepath.Base(path))
	}
	hash, err := contentHash(raw)
	if err != nil {
		return nil, err
	}
	w.ContentHash = hash
	w.sourcePath = path
	return &w, nil
}
