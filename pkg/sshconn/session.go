package sshconn

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/neuroinsight/neuroinsight/pkg/log"
)

// Default timeouts
const (
	DefaultConnectTimeout    = 15 * time.Second
	DefaultCommandTimeout    = 120 * time.Second
	DefaultKeepaliveInterval = 30 * time.Second
	DefaultIdleTimeout       = 30 * time.Minute
)

var (
	// ErrNotConfigured is returned when no endpoint has been configured
	ErrNotConfigured = errors.New("ssh not configured")
	// ErrConnectionLost is returned when the transport is dead and one
	// reconnect attempt failed
	ErrConnectionLost = errors.New("ssh connection lost")
)

// CommandError carries the exit code and stderr of a failed remote command
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	stderr := e.Stderr
	if len(stderr) > 500 {
		stderr = stderr[:500]
	}
	return fmt.Sprintf("command failed (exit %d): %s\nstderr: %s", e.ExitCode, e.Command, stderr)
}

// Config holds the endpoint and timeout parameters of a session
type Config struct {
	Host              string
	User              string
	Port              int
	KeyPath           string
	ConnectTimeout    time.Duration
	CommandTimeout    time.Duration
	KeepaliveInterval time.Duration
	IdleTimeout       time.Duration
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 22
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	if c.KeepaliveInterval == 0 {
		c.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
}

// DirEntry is one entry returned by ListDir
type DirEntry struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Type     string `json:"type"`
	Size     int64  `json:"size"`
	Modified int64  `json:"modified"`
}

// ConnectionInfo is a point-in-time summary of the session state
type ConnectionInfo struct {
	Connected            bool   `json:"connected"`
	Host                 string `json:"host"`
	User                 string `json:"username"`
	Port                 int    `json:"port"`
	UptimeSeconds        int    `json:"uptime_seconds"`
	LastActivitySecsAgo  int    `json:"last_activity_seconds_ago"`
	IdleTimeoutSeconds   int    `json:"idle_timeout_seconds"`
	IdleTimeoutRemaining int    `json:"idle_timeout_remaining"`
}

// Session is the shared SSH+SFTP session. The zero value is usable;
// Configure must be called before Connect.
type Session struct {
	mu sync.Mutex

	cfg        Config
	configured bool

	client *ssh.Client
	sftpc  *sftp.Client

	connectedAt  time.Time
	lastActivity time.Time
	idleTimer    *time.Timer
	keepaliveGen int

	// OnIdleDisconnect, when set, is invoked after an idle auto-disconnect
	// with the number of seconds the session sat idle
	OnIdleDisconnect func(host string, idleSeconds int)
}

// New returns an unconfigured session
func New() *Session {
	return &Session{}
}

// Configure sets the endpoint and timeout parameters. When the session is
// connected to a different endpoint, it is disconnected first.
func (s *Session) Configure(cfg Config) {
	cfg.applyDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil && (s.cfg.Host != cfg.Host || s.cfg.User != cfg.User || s.cfg.Port != cfg.Port) {
		s.closeLocked()
	}
	s.cfg = cfg
	s.configured = cfg.Host != "" && cfg.User != ""
}

// Connect establishes the SSH connection. Reuses a live connection.
func (s *Session) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked()
}

func (s *Session) connectLocked() error {
	if s.client != nil && s.isAliveLocked() {
		return nil
	}
	if !s.configured {
		return fmt.Errorf("%w: call Configure first", ErrNotConfigured)
	}
	s.closeLocked()

	logger := log.WithComponent("sshconn")

	auths := s.authMethods()
	if len(auths) == 0 {
		return fmt.Errorf("no usable ssh authentication: load a key into the agent or set a key path")
	}

	clientCfg := &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            auths,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         s.cfg.ConnectTimeout,
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	logger.Info().Str("addr", addr).Str("user", s.cfg.User).Msg("connecting")

	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return fmt.Errorf("connect %s@%s: %w", s.cfg.User, addr, err)
	}

	s.client = client
	s.connectedAt = time.Now()
	s.lastActivity = s.connectedAt
	s.armIdleTimerLocked()
	s.startKeepaliveLocked()

	logger.Info().Str("addr", addr).Msg("ssh connected")
	return nil
}

// authMethods builds the auth chain: agent first, then the explicit key
// file, then the default key locations.
func (s *Session) authMethods() []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" && s.cfg.KeyPath == "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	keyPaths := []string{}
	if s.cfg.KeyPath != "" {
		keyPaths = append(keyPaths, expandHome(s.cfg.KeyPath))
	} else if home, err := os.UserHomeDir(); err == nil {
		keyPaths = append(keyPaths,
			filepath.Join(home, ".ssh", "id_rsa"),
			filepath.Join(home, ".ssh", "id_ed25519"),
		)
	}
	for _, p := range keyPaths {
		raw, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(raw)
		if err != nil {
			continue
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	return methods
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}

func (s *Session) startKeepaliveLocked() {
	s.keepaliveGen++
	gen := s.keepaliveGen
	client := s.client
	interval := s.cfg.KeepaliveInterval

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			s.mu.Lock()
			stale := s.keepaliveGen != gen || s.client != client
			s.mu.Unlock()
			if stale {
				return
			}
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				return
			}
		}
	}()
}

// armIdleTimerLocked cancels any outstanding idle timer and arms a fresh one.
// Called under the lock on every activity.
func (s *Session) armIdleTimerLocked() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	if s.cfg.IdleTimeout <= 0 || s.client == nil {
		return
	}
	s.idleTimer = time.AfterFunc(s.cfg.IdleTimeout, s.idleDisconnect)
}

func (s *Session) idleDisconnect() {
	s.mu.Lock()
	if s.client == nil {
		s.mu.Unlock()
		return
	}
	idle := int(time.Since(s.lastActivity).Seconds())
	host := s.cfg.Host
	timeout := s.cfg.IdleTimeout
	s.closeLocked()
	cb := s.OnIdleDisconnect
	s.mu.Unlock()

	log.WithComponent("sshconn").Info().
		Int("idle_seconds", idle).
		Dur("idle_timeout", timeout).
		Msg("idle session auto-disconnected")
	if cb != nil {
		cb(host, idle)
	}
}

// Disconnect cancels the idle timer and closes SFTP and the transport
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	log.WithComponent("sshconn").Info().Msg("ssh disconnected")
}

func (s *Session) closeLocked() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	s.keepaliveGen++
	if s.sftpc != nil {
		_ = s.sftpc.Close()
		s.sftpc = nil
	}
	if s.client != nil {
		_ = s.client.Close()
		s.client = nil
	}
	s.connectedAt = time.Time{}
}

func (s *Session) isAliveLocked() bool {
	if s.client == nil {
		return false
	}
	_, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil)
	if err != nil {
		return false
	}
	return true
}

// ensureLocked guarantees a live connection, reconnecting once before
// surfacing ErrConnectionLost
func (s *Session) ensureLocked() error {
	if s.client != nil && s.isAliveLocked() {
		return nil
	}
	if !s.configured {
		return ErrNotConfigured
	}
	log.WithComponent("sshconn").Info().Msg("connection lost, reconnecting")
	if err := s.connectLocked(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return nil
}

// touchLocked records activity and re-arms the idle timer
func (s *Session) touchLocked() {
	s.lastActivity = time.Now()
	s.armIdleTimerLocked()
}

// IsConnected reports whether the transport is live
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil && s.isAliveLocked()
}

// Info returns a point-in-time summary of the connection state
func (s *Session) Info() ConnectionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	connected := s.client != nil
	info := ConnectionInfo{
		Connected:          connected,
		Host:               s.cfg.Host,
		User:               s.cfg.User,
		Port:               s.cfg.Port,
		IdleTimeoutSeconds: int(s.cfg.IdleTimeout.Seconds()),
	}
	if !s.lastActivity.IsZero() {
		info.LastActivitySecsAgo = int(time.Since(s.lastActivity).Seconds())
	}
	if connected {
		info.UptimeSeconds = int(time.Since(s.connectedAt).Seconds())
		remaining := info.IdleTimeoutSeconds - info.LastActivitySecsAgo
		if remaining < 0 {
			remaining = 0
		}
		info.IdleTimeoutRemaining = remaining
	}
	return info
}

// Execute runs a command on the remote host and returns exit code, stdout
// and stderr. A zero timeout uses the configured command timeout.
func (s *Session) Execute(command string, timeout time.Duration) (int, string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLocked(); err != nil {
		return -1, "", "", err
	}
	s.touchLocked()
	if timeout == 0 {
		timeout = s.cfg.CommandTimeout
	}

	sess, err := s.client.NewSession()
	if err != nil {
		return -1, "", "", fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()

	var runErr error
	select {
	case runErr = <-done:
	case <-time.After(timeout):
		_ = sess.Close()
		return -1, stdout.String(), stderr.String(),
			fmt.Errorf("command timed out after %s: %s", timeout, truncate(command, 80))
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitStatus()
		} else {
			return -1, stdout.String(), stderr.String(), fmt.Errorf("command execution failed: %w", runErr)
		}
	}

	log.WithComponent("sshconn").Debug().
		Str("command", truncate(command, 80)).
		Int("exit", exitCode).
		Msg("ssh exec")

	return exitCode, stdout.String(), stderr.String(), nil
}

// ExecuteCheck runs a command and returns stdout, failing with a
// CommandError on non-zero exit
func (s *Session) ExecuteCheck(command string, timeout time.Duration) (string, error) {
	exit, stdout, stderr, err := s.Execute(command, timeout)
	if err != nil {
		return "", err
	}
	if exit != 0 {
		return "", &CommandError{Command: command, ExitCode: exit, Stderr: stderr}
	}
	return stdout, nil
}

func (s *Session) sftpLocked() (*sftp.Client, error) {
	if err := s.ensureLocked(); err != nil {
		return nil, err
	}
	if s.sftpc == nil {
		c, err := sftp.NewClient(s.client)
		if err != nil {
			return nil, fmt.Errorf("open sftp: %w", err)
		}
		s.sftpc = c
	}
	s.touchLocked()
	return s.sftpc, nil
}

// PutFile uploads a local file, creating remote parent directories
func (s *Session) PutFile(localPath, remotePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.sftpLocked()
	if err != nil {
		return err
	}
	if err := mkdirP(c, path.Dir(remotePath)); err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer src.Close()

	dst, err := c.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create %s: %w", remotePath, err)
	}
	defer dst.Close()

	if _, err := dst.ReadFrom(src); err != nil {
		return fmt.Errorf("upload %s: %w", remotePath, err)
	}
	return nil
}

// GetFile downloads a remote file, creating local parent directories
func (s *Session) GetFile(remotePath, localPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.sftpLocked()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}

	src, err := c.Open(remotePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", remotePath, err)
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := src.WriteTo(dst); err != nil {
		return fmt.Errorf("download %s: %w", remotePath, err)
	}
	return nil
}

// WriteFile writes content to a remote file, creating parent directories
func (s *Session) WriteFile(remotePath, content string, mode os.FileMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.sftpLocked()
	if err != nil {
		return err
	}
	if err := mkdirP(c, path.Dir(remotePath)); err != nil {
		return err
	}

	f, err := c.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create %s: %w", remotePath, err)
	}
	if _, err := f.Write([]byte(content)); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", remotePath, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return c.Chmod(remotePath, mode)
}

// ReadFile returns the content of a remote file
func (s *Session) ReadFile(remotePath string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.sftpLocked()
	if err != nil {
		return "", err
	}
	f, err := c.Open(remotePath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", remotePath, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return "", fmt.Errorf("read %s: %w", remotePath, err)
	}
	return buf.String(), nil
}

// ListDir lists a remote directory, directories first then case-insensitive
// by name
func (s *Session) ListDir(remotePath string) ([]DirEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.sftpLocked()
	if err != nil {
		return nil, err
	}
	infos, err := c.ReadDir(remotePath)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", remotePath, err)
	}

	entries := make([]DirEntry, 0, len(infos))
	for _, fi := range infos {
		typ := "file"
		if fi.IsDir() {
			typ = "directory"
		}
		entries = append(entries, DirEntry{
			Name:     fi.Name(),
			Path:     path.Join(remotePath, fi.Name()),
			Type:     typ,
			Size:     fi.Size(),
			Modified: fi.ModTime().Unix(),
		})
	}
	sortEntries(entries)
	return entries, nil
}

// FileExists reports whether a remote file or directory exists
func (s *Session) FileExists(remotePath string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.sftpLocked()
	if err != nil {
		return false, err
	}
	if _, err := c.Stat(remotePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// RemoveFile removes a remote file
func (s *Session) RemoveFile(remotePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.sftpLocked()
	if err != nil {
		return err
	}
	return c.Remove(remotePath)
}

// HealthCheck probes the connection with a trivial remote command
func (s *Session) HealthCheck() map[string]any {
	s.mu.Lock()
	configured := s.configured
	host := s.cfg.Host
	user := s.cfg.User
	s.mu.Unlock()

	if !configured {
		return map[string]any{
			"healthy": false,
			"message": "SSH not configured",
			"details": map[string]any{"configured": false},
		}
	}
	if !s.IsConnected() {
		return map[string]any{
			"healthy": false,
			"message": fmt.Sprintf("Not connected to %s", host),
			"details": map[string]any{"configured": true, "host": host, "username": user},
		}
	}

	exit, stdout, _, err := s.Execute("echo OK && hostname", 10*time.Second)
	if err != nil || exit != 0 {
		return map[string]any{
			"healthy": false,
			"message": "Connection test failed",
			"details": s.Info(),
		}
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	hostname := lines[len(lines)-1]
	return map[string]any{
		"healthy": true,
		"message": fmt.Sprintf("Connected to %s", hostname),
		"details": map[string]any{"connection": s.Info(), "remote_hostname": hostname},
	}
}

// mkdirP recursively creates a remote directory, tolerating a concurrent
// creator winning the race
func mkdirP(c *sftp.Client, dir string) error {
	if dir == "" || dir == "/" || dir == "." {
		return nil
	}
	if _, err := c.Stat(dir); err == nil {
		return nil
	}
	if err := mkdirP(c, path.Dir(dir)); err != nil {
		return err
	}
	if err := c.Mkdir(dir); err != nil {
		if _, statErr := c.Stat(dir); statErr == nil {
			return nil
		}
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return nil
}

func sortEntries(entries []DirEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		di, dj := entries[i].Type == "directory", entries[j].Type == "directory"
		if di != dj {
			return di
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
