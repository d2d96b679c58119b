/*
Package sshconn provides the process-wide SSH and SFTP session used by the
remote execution backends.

One session is bound to at most one host/user/port; reconfiguring to a
different endpoint disconnects first. All operations are serialised by an
internal mutex, update the last-activity clock, and re-arm the
idle-disconnect timer, so an idle deployment does not hold a connection to
the cluster login node forever.

# Core Components

Session lifecycle:
  - Configure: bind the session to an endpoint (host, user, port, key)
  - Connect: dial and authenticate; safe to call when already connected
  - Disconnect: close the SSH and SFTP channels
  - IsConnected / Info: connection introspection

Command execution:
  - Execute: run a command, returning exit code, stdout and stderr; a
    zero timeout uses the configured default
  - ExecuteCheck: like Execute but fails on a non-zero exit code,
    returning a CommandError that carries the command and stderr

File transfer (SFTP):
  - PutFile / GetFile: stream files to and from the remote host
  - WriteFile / ReadFile: small-content convenience wrappers
  - ListDir / FileExists / RemoveFile: remote tree inspection

Diagnostics:
  - HealthCheck: remote uptime, CPU count, memory and disk headroom,
    shaped for the system-info API

# Authentication

Key-based only. The SSH agent is tried first when no explicit key path is
configured, then the configured key file, then the default ~/.ssh key
locations. Password auth is deliberately not supported.

# Usage

	ssh := sshconn.New()
	ssh.Configure(sshconn.Config{
		Host:    cfg.HPC.Host,
		User:    cfg.HPC.User,
		Port:    cfg.HPC.SSHPort,
		KeyPath: cfg.HPC.SSHKeyPath,
	})
	out, err := ssh.ExecuteCheck("sbatch submit.sbatch", 30*time.Second)

Execute reconnects transparently when the underlying connection has
dropped; callers see ErrConnectionLost only when the redial also fails.

# Integration Points

  - pkg/backend: SLURM and remote Docker command and file plumbing
  - pkg/api: system-info endpoint for non-local backends
*/
package sshconn
