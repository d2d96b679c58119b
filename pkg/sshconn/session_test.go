package sshconn

import (
	"os"
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

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Host: "hpc.example.edu", User: "user01"}
	cfg.applyDefaults()

	assert.Equal(t, 22, cfg.Port)
	assert.Equal(t, 15*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 120*time.Second, cfg.CommandTimeout)
	assert.Equal(t, 30*time.Second, cfg.KeepaliveInterval)
	assert.Equal(t, 30*time.Minute, cfg.IdleTimeout)
}

func TestConfigDefaultsKeepExplicitValues(t *testing.T) {
	cfg := Config{
		Host:           "hpc.example.edu",
		User:           "user01",
		Port:           2222,
		CommandTimeout: 5 * time.Second,
	}
	cfg.applyDefaults()

	assert.Equal(t, 2222, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.CommandTimeout)
	assert.Equal(t, 15*time.Second, cfg.ConnectTimeout)
}

func TestUnconfiguredSession(t *testing.T) {
	s := New()

	err := s.Connect()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, _, _, err = s.Execute("hostname", 0)
	assert.ErrorIs(t, err, ErrNotConfigured)

	health := s.HealthCheck()
	assert.Equal(t, false, health["healthy"])
	assert.Equal(t, "SSH not configured", health["message"])
}

func TestInfoWhenDisconnected(t *testing.T) {
	s := New()
	s.Configure(Config{Host: "hpc.example.edu", User: "user01"})

	info := s.Info()
	assert.False(t, info.Connected)
	assert.Equal(t, "hpc.example.edu", info.Host)
	assert.Equal(t, "user01", info.User)
	assert.Equal(t, 22, info.Port)
	assert.Equal(t, 1800, info.IdleTimeoutSeconds)
	assert.Zero(t, info.UptimeSeconds)
}

func TestConfigureReplacesEndpoint(t *testing.T) {
	s := New()
	s.Configure(Config{Host: "a.example.edu", User: "user01"})
	s.Configure(Config{Host: "b.example.edu", User: "user01", Port: 2200})

	info := s.Info()
	assert.Equal(t, "b.example.edu", info.Host)
	assert.Equal(t, 2200, info.Port)
}

func TestCommandError(t *testing.T) {
	err := &CommandError{Command: "sbatch job.sh", ExitCode: 1, Stderr: "sbatch: error: invalid partition"}
	assert.Contains(t, err.Error(), "exit 1")
	assert.Contains(t, err.Error(), "sbatch job.sh")
	assert.Contains(t, err.Error(), "invalid partition")
}

func TestSortEntriesDirectoriesFirst(t *testing.T) {
	entries := []DirEntry{
		{Name: "zebra.log", Type: "file"},
		{Name: "Outputs", Type: "directory"},
		{Name: "alpha.txt", Type: "file"},
		{Name: "inputs", Type: "directory"},
	}
	sortEntries(entries)

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	// Directories first, then case-insensitive by name
	assert.Equal(t, []string{"inputs", "Outputs", "alpha.txt", "zebra.log"}, names)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 80))
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'x'
	}
	out := truncate(string(long), 80)
	assert.Len(t, out, 83)
	assert.Equal(t, "...", out[80:])
}
