package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/neuroinsight/neuroinsight/pkg/api"
	"github.com/neuroinsight/neuroinsight/pkg/audit"
	"github.com/neuroinsight/neuroinsight/pkg/backend"
	"github.com/neuroinsight/neuroinsight/pkg/config"
	"github.com/neuroinsight/neuroinsight/pkg/executor"
	"github.com/neuroinsight/neuroinsight/pkg/log"
	"github.com/neuroinsight/neuroinsight/pkg/metrics"
	"github.com/neuroinsight/neuroinsight/pkg/objectstore"
	"github.com/neuroinsight/neuroinsight/pkg/queue"
	"github.com/neuroinsight/neuroinsight/pkg/registry"
	"github.com/neuroinsight/neuroinsight/pkg/results"
	"github.com/neuroinsight/neuroinsight/pkg/sshconn"
	"github.com/neuroinsight/neuroinsight/pkg/store"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "neuroinsight",
	Short: "NeuroInsight - job orchestration for containerised neuroimaging pipelines",
	Long: `NeuroInsight runs declarative neuroimaging pipelines (FreeSurfer,
FastSurfer, fMRIPrep and friends) as containers on a local Docker daemon,
a remote Docker host over SSH, or a SLURM cluster, with durable job
tracking and progress derived from pipeline logs.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"NeuroInsight version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server together with the job executor",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(true)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the job executor worker pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(false)
	},
}

// run wires every component and blocks until a signal arrives
func run(withAPI bool) error {
	cfg := config.Load()
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("main")

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	st, err := store.New(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer st.Close()

	q := queue.New(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
	defer q.Close()

	reg, err := registry.New(cfg.PluginsDir, cfg.WorkflowsDir)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}
	logger.Info().
		Int("plugins", len(reg.ListPlugins(false))).
		Int("workflows", len(reg.ListWorkflows())).
		Msg("registry loaded")

	auditLog, err := audit.New(cfg.DataDir)
	if err != nil {
		logger.Warn().Err(err).Msg("audit log disabled")
	}

	var uploader objectstore.Uploader
	if cfg.ObjectStore.Enabled() {
		up, err := objectstore.New(context.Background(), cfg.ObjectStore)
		if err != nil {
			logger.Warn().Err(err).Msg("object store disabled")
		} else {
			uploader = up
		}
	}

	ssh := sshconn.New()
	switch cfg.BackendType {
	case config.BackendSLURM:
		ssh.Configure(sshconn.Config{
			Host:    cfg.HPC.Host,
			Port:    cfg.HPC.SSHPort,
			User:    cfg.HPC.User,
			KeyPath: cfg.HPC.SSHKeyPath,
		})
	case config.BackendRemoteDocker:
		ssh.Configure(sshconn.Config{
			Host:    cfg.RemoteDocker.Host,
			Port:    cfg.RemoteDocker.SSHPort,
			User:    cfg.RemoteDocker.User,
			KeyPath: cfg.RemoteDocker.KeyPath,
		})
	}
	if cfg.BackendType != config.BackendLocal {
		if err := ssh.Connect(); err != nil {
			logger.Warn().Err(err).Msg("SSH connection deferred, will retry on use")
		}
	}

	exec, err := executor.New(cfg, st, q, reg, uploader, auditLog)
	if err != nil {
		return fmt.Errorf("create executor: %w", err)
	}

	backends, err := backend.NewManager(cfg, backend.Deps{
		Store:        st,
		Queue:        q,
		SSH:          ssh,
		Registry:     reg,
		Audit:        auditLog,
		InlineRunner: exec.RunTask,
	})
	if err != nil {
		return fmt.Errorf("create backend: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		if err := exec.Run(ctx); err != nil {
			errCh <- fmt.Errorf("executor: %w", err)
		}
	}()

	var srv *api.Server
	if withAPI {
		srv = api.NewServer(cfg, api.Deps{
			Store:    st,
			Queue:    q,
			Registry: reg,
			Backends: backends,
			SSH:      ssh,
			Results:  results.New(st),
			Uploader: uploader,
			Audit:    auditLog,
		})
		go func() {
			if err := srv.Start(); err != nil {
				errCh <- fmt.Errorf("api server: %w", err)
			}
		}()
	}

	go gaugeLoop(ctx, st, q)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("component failed, shutting down")
	}

	cancel()
	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("HTTP shutdown incomplete")
		}
	}
	ssh.Disconnect()
	logger.Info().Msg("shutdown complete")
	return nil
}

// gaugeLoop refreshes the queue-depth and job-status gauges until ctx ends
func gaugeLoop(ctx context.Context, st store.Store, q *queue.Queue) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if pending, processing, err := q.Depth(ctx); err == nil {
			metrics.QueueDepth.WithLabelValues("pending").Set(float64(pending))
			metrics.QueueDepth.WithLabelValues("processing").Set(float64(processing))
		}

		active, err := st.ListActive(ctx)
		if err != nil {
			continue
		}
		counts := map[string]int{"pending": 0, "running": 0}
		for _, job := range active {
			counts[string(job.Status)]++
		}
		for status, n := range counts {
			metrics.JobsByStatus.WithLabelValues(status).Set(float64(n))
		}
	}
}
