/*
Package config loads the environment-driven configuration for NeuroInsight.

All settings come from environment variables with sensible defaults, so the
server starts with no configuration at all against a local Docker daemon,
and picks up Postgres, Redis, MinIO, SSH and SLURM settings from the
environment when they are provided.

# Configuration Groups

  - BackendType: BACKEND_TYPE selects local, remote_docker or slurm
  - Server: SERVER_HOST / SERVER_PORT for the HTTP listener
  - Database: DATABASE_URL for the Postgres job store
  - Redis: REDIS_HOST / REDIS_PORT / REDIS_DB / REDIS_PASSWORD
  - ObjectStore: MINIO_* settings; the store is optional and disabled
    when MINIO_ENDPOINT is empty
  - HPC: HPC_* settings for the SLURM backend (host, user, partition,
    account, QOS, container runtime, module loads)
  - RemoteDocker: REMOTE_* settings for the SSH Docker backend
  - DataDir, PluginsDir, WorkflowsDir: filesystem roots
  - MaxConcurrentJobs: executor worker-pool size

# Usage

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

Validate fails fast when the selected backend is missing its required
connection settings, so a misconfigured deployment dies at startup with a
readable message instead of failing on the first job.

# FreeSurfer License

Load probes the conventional license locations (./license.txt, the data
directory, $FREESURFER_HOME, ~/.freesurfer) and records the first hit in
FreeSurferLicense. Jobs mount it read-only at /license.txt when present.
*/
package config
