package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroinsight/neuroinsight/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel})
	os.Exit(m.Run())
}

func TestRecordWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir)
	require.NoError(t, err)

	l.Record("job_submitted", map[string]any{"job_id": "job-1", "plugin_id": "fastsurfer"})
	l.RecordWarning("ssh_idle_timeout", map[string]any{"host": "hpc.example.edu", "idle_seconds": 1800})

	day := time.Now().UTC().Format("2006-01-02")
	f, err := os.Open(filepath.Join(dir, "audit-"+day+".jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.Len(t, entries, 2)
	assert.Equal(t, "job_submitted", entries[0].Event)
	assert.Equal(t, "info", entries[0].Severity)
	assert.Equal(t, "job-1", entries[0].Details["job_id"])
	assert.Equal(t, "warning", entries[1].Severity)
}

func TestRecentNewestFirst(t *testing.T) {
	l, err := New(t.TempDir())
	require.NoError(t, err)

	l.Record("first", nil)
	l.Record("second", nil)
	l.Record("third", nil)

	recent := l.Recent(2, "")
	require.Len(t, recent, 2)
	assert.Equal(t, "third", recent[0].Event)
	assert.Equal(t, "second", recent[1].Event)
}

func TestRecentEventFilter(t *testing.T) {
	l, err := New(t.TempDir())
	require.NoError(t, err)

	l.Record("job_submitted", map[string]any{"job_id": "a"})
	l.Record("job_cancelled", map[string]any{"job_id": "a"})
	l.Record("job_submitted", map[string]any{"job_id": "b"})

	recent := l.Recent(10, "job_submitted")
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].Details["job_id"])
	assert.Equal(t, "a", recent[1].Details["job_id"])
}

func TestRingOverflowKeepsNewest(t *testing.T) {
	l, err := New(t.TempDir())
	require.NoError(t, err)

	for i := 0; i < ringSize+10; i++ {
		l.Record("event", map[string]any{"seq": i})
	}

	recent := l.Recent(1, "")
	require.Len(t, recent, 1)
	assert.EqualValues(t, ringSize+9, recent[0].Details["seq"])

	all := l.Recent(ringSize*2, "")
	assert.Len(t, all, ringSize)
}
