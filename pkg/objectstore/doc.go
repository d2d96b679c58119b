/*
Package objectstore mirrors job outputs to an S3-compatible object store
using the MinIO client.

Uploads are best effort: the executor logs failures and never fails a job
over them, so an unreachable object store degrades mirroring without
touching job outcomes. The store is optional and only constructed when an
endpoint is configured.

# Usage

	up, err := objectstore.New(ctx, cfg.ObjectStore)
	if err != nil {
		// run without mirroring
	}
	n, err := up.UploadDir(ctx, jobID, outputDir, "native")

UploadDir walks the local tree and uploads every regular file under
<jobID>/<prefix>/, returning the number of files transferred. The output
bucket is created on first use when it does not exist.

# Integration Points

  - pkg/executor: mirrors the native and bundle output trees after
    post-processing
  - pkg/api: health endpoint reports object-store reachability
*/
package objectstore
