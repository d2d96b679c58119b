/*
Package registry loads and serves the declarative pipeline catalog: plugin
and workflow definitions read from YAML files on disk.

A plugin describes one containerised pipeline (image, inputs, parameters,
resources, command template); a workflow chains plugins into ordered steps
where each step consumes the native outputs of the one before. The registry
is the single source of truth for what the server will run.

# Architecture

	 pipelines/plugins/*.yaml      pipelines/workflows/*.yaml
	          │                             │
	          ▼                             ▼
	  ┌───────────────────────────────────────────┐
	  │                Registry                    │
	  │  id-keyed plugin and workflow maps         │
	  │  RWMutex, atomically swapped on Reload     │
	  └───────────────────────────────────────────┘
	          │                             │
	     GetPlugin / ListPlugins      GetWorkflow / ResolveWorkflowPlugins

Definitions failing validation are skipped with a logged reason; one broken
YAML file never takes the catalog down. Reload parses into a fresh map and
swaps it in whole, so readers never observe a half-loaded catalog.

# Lockfile

GenerateLockfile captures the catalog as id → (version, content digest)
for both plugins and workflows. VerifyLockfile compares a previously
generated lockfile against the current catalog and reports added, removed
and changed entries, which is how deployments pin a reviewed pipeline set.

# Usage

	reg, err := registry.New(cfg.PluginsDir, cfg.WorkflowsDir)
	plugin, ok := reg.GetPlugin("fastsurfer_seg")
	steps, err := reg.ResolveWorkflowPlugins(workflow)

ListPlugins(false) includes plugins marked not user-selectable, used by
the API's ?all=true listing; ListPlugins(true) is the default catalog
shown to users.

# Integration Points

  - pkg/api: catalog browsing, submission validation, lockfile endpoints
  - pkg/executor: command template and default resolution at run time
*/
package registry
