package pipeline

import (
	"context"
	"log/slog"
)

// Worker processes a single document job.
type Worker struct {
	builder *Builder
	log     *slog.Logger
}

func NewWorker(b *Builder, log *slog.Logger) *Worker {
	return &Worker{builder: b, log: log}
}

// Process runs the full ingest pipeline for a job.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "doc", job.DocumentName)

	snap := job.Snapshot()
	src := Source{
		Filename:     snap.Filename,
		Name:         snap.DocumentName,
		DocumentType: snap.DocumentType,
		Data:         job.FileData(),
	}

	var last JobStatus
	rep, err := w.builder.Build(ctx, src, func(status JobStatus) {
		last = status
		job.SetStatus(status, string(status))
	})
	if err != nil {
		log.Error("ingestion failed", "phase", last, "error", err)
		job.AddError(err.Error())
		job.SetFileData(nil)
		job.SetStatus(StatusFailed, string(last))
		return
	}
	job.Finish(rep)
	log.Info("ingestion complete", "sections", rep.Sections, "chunks", rep.Chunks)
}
