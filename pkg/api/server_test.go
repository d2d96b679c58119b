package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroinsight/neuroinsight/pkg/backend"
	"github.com/neuroinsight/neuroinsight/pkg/config"
	"github.com/neuroinsight/neuroinsight/pkg/log"
	"github.com/neuroinsight/neuroinsight/pkg/queue"
	"github.com/neuroinsight/neuroinsight/pkg/registry"
	"github.com/neuroinsight/neuroinsight/pkg/results"
	"github.com/neuroinsight/neuroinsight/pkg/store"
	"github.com/neuroinsight/neuroinsight/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel})
	os.Exit(m.Run())
}

// memStore is an in-memory Store for handler tests
type memStore struct {
	mu   sync.Mutex
	jobs map[string]*types.Job
}

func newMemStore() *memStore { return &memStore{jobs: map[string]*types.Job{}} }

func (s *memStore) Create(ctx context.Context, job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := *job
	if j.Status == "" {
		j.Status = types.JobStatusPending
	}
	if j.SubmittedAt.IsZero() {
		j.SubmittedAt = time.Now()
	}
	s.jobs[j.ID] = &j
	return nil
}

func (s *memStore) Get(ctx context.Context, id string) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		copy := *j
		return &copy, nil
	}
	return nil, store.ErrNotFound
}

func (s *memStore) List(ctx context.Context, status types.JobStatus, limit int) ([]*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Job
	for _, j := range s.jobs {
		if status != "" && j.Status != status {
			continue
		}
		copy := *j
		out = append(out, &copy)
	}
	return out, nil
}

func (s *memStore) ListActive(ctx context.Context) ([]*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Job
	for _, j := range s.jobs {
		if j.IsActive() {
			copy := *j
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (s *memStore) UpdateProgress(ctx context.Context, id string, progress int, phase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		if progress > j.Progress {
			j.Progress = progress
		}
		j.CurrentPhase = phase
	}
	return nil
}

func (s *memStore) SetBackendJobID(ctx context.Context, id, backendJobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.BackendJobID = &backendJobID
	}
	return nil
}

func (s *memStore) transition(id string, from []types.JobStatus, to types.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	for _, f := range from {
		if j.Status == f {
			j.Status = to
			return nil
		}
	}
	return store.ErrInvalidTransition
}

func (s *memStore) MarkRunning(ctx context.Context, id string) error {
	return s.transition(id, []types.JobStatus{types.JobStatusPending}, types.JobStatusRunning)
}

func (s *memStore) MarkCompleted(ctx context.Context, id string, exitCode int) error {
	return s.transition(id, []types.JobStatus{types.JobStatusRunning}, types.JobStatusCompleted)
}

func (s *memStore) MarkFailed(ctx context.Context, id string, exitCode *int, errorMessage string) error {
	return s.transition(id,
		[]types.JobStatus{types.JobStatusPending, types.JobStatusRunning}, types.JobStatusFailed)
}

func (s *memStore) MarkCancelled(ctx context.Context, id string) error {
	return s.transition(id,
		[]types.JobStatus{types.JobStatusPending, types.JobStatusRunning}, types.JobStatusCancelled)
}

func (s *memStore) SoftDelete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *memStore) Health(ctx context.Context) error { return nil }
func (s *memStore) Close() error                     { return nil }

const testPluginYAML = `type: plugin
id: fastsurfer_seg
name: FastSurfer Segmentation
version: 1.2.0
visibility:
  user_selectable: true
container:
  image: deepmi/fastsurfer:cpu-v2.2.0
inputs:
  required:
    - key: t1w
      label: T1-weighted image
      format: nifti
parameters:
  - name: threads
    type: int
    default: 4
resources:
  default:
    memory_gb: 16
    cpus: 8
    time_hours: 12
execution:
  command_template: "run_fastsurfer.sh --t1 {input_file} --threads {threads}"
`

func newTestServer(t *testing.T) (*Server, *memStore) {
	t.Helper()

	pluginsDir := t.TempDir()
	workflowsDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(pluginsDir, "fastsurfer.yaml"),
		[]byte(testPluginYAML), 0o644))

	reg, err := registry.New(pluginsDir, workflowsDir)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	q := queue.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	st := newMemStore()
	cfg := &config.Config{
		BackendType: config.BackendLocal,
		DataDir:     t.TempDir(),
	}

	mgr, err := backend.NewManager(cfg, backend.Deps{Store: st, Queue: q})
	require.NoError(t, err)

	srv := NewServer(cfg, Deps{
		Store:    st,
		Queue:    q,
		Registry: reg,
		Backends: mgr,
		Results:  results.New(st),
	})
	return srv, st
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestSubmitUnknownPlugin(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, http.MethodPost, "/api/plugins/nope/submit",
		map[string]any{"input_files": []string{"/tmp/T1.nii.gz"}})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitRequiresInputFiles(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, http.MethodPost, "/api/plugins/fastsurfer_seg/submit",
		map[string]any{"input_files": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitCreatesPendingJob(t *testing.T) {
	srv, st := newTestServer(t)
	w := doJSON(t, srv, http.MethodPost, "/api/plugins/fastsurfer_seg/submit",
		map[string]any{"input_files": []string{"/tmp/T1.nii.gz"}})
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "pending", resp["status"])
	assert.Equal(t, "fastsurfer_seg", resp["plugin"])

	jobID, _ := resp["job_id"].(string)
	require.NotEmpty(t, jobID)
	job, err := st.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPending, job.Status)
	assert.Equal(t, "deepmi/fastsurfer:cpu-v2.2.0", job.ContainerImage)
}

func TestGetPluginAndList(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/plugins/fastsurfer_seg", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/plugins", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 1, resp["count"])
}

func TestCancelTerminalJobIsBadRequest(t *testing.T) {
	srv, st := newTestServer(t)
	require.NoError(t, st.Create(context.Background(), &types.Job{
		ID:     "done-job",
		Status: types.JobStatusCompleted,
	}))

	w := doJSON(t, srv, http.MethodPost, "/api/jobs/done-job/cancel", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelUnknownJobIsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, http.MethodPost, "/api/jobs/missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDownloadPathTraversalIsBadRequest(t *testing.T) {
	srv, st := newTestServer(t)
	outputDir := t.TempDir()
	require.NoError(t, st.Create(context.Background(), &types.Job{
		ID:        "job-x",
		Status:    types.JobStatusCompleted,
		OutputDir: outputDir,
	}))

	w := doJSON(t, srv, http.MethodGet,
		"/api/results/job-x/download?file_path=..%2F..%2Fetc%2Fpasswd", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLockfileRoundTripOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/registry/lockfile", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var lf registry.Lockfile
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &lf))
	require.Contains(t, lf.Plugins, "fastsurfer_seg")

	w = doJSON(t, srv, http.MethodPost, "/api/registry/verify", lf)
	require.Equal(t, http.StatusOK, w.Code)
	var report registry.VerifyReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.True(t, report.OK())
}

func TestBackendSwitchRejectsUnknownType(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, http.MethodPost, "/api/hpc/backend/switch",
		map[string]any{"backend_type": "mainframe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCurrentBackend(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/api/hpc/backend/current", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "local", resp["backend_type"])
}

func TestResourcePresets(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/api/hpc/resource-presets", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Presets map[string]types.ResourceSpec `json:"presets"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Presets, "medium")
	assert.True(t, resp.Presets["max"].GPU)
	assert.Less(t, resp.Presets["small"].MemoryGB, resp.Presets["large"].MemoryGB)
}
