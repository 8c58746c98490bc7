package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Ingestor processes uploaded documents in the background.
type Ingestor interface {
	Start(ctx context.Context, numWorkers int)
	Enqueue(docID string)
	ProcessOne(ctx context.Context, docID string) error
}

// DocumentIngestor feeds single-document batches from an in-memory queue.
type DocumentIngestor struct {
	orch   *Orchestrator
	jobs   chan string
	logger *slog.Logger
}

var _ Ingestor = (*DocumentIngestor)(nil)

// NewDocumentIngestor constructs the ingestor with a bounded job queue (64).
func NewDocumentIngestor(orch *Orchestrator, logger *slog.Logger) *DocumentIngestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentIngestor{orch: orch, jobs: make(chan string, 64), logger: logger.With("component", "ingestor")}
}

// Start runs numWorkers goroutines reading from the jobs channel until ctx
// is cancelled.
func (i *DocumentIngestor) Start(ctx context.Context, numWorkers int) {
	for w := 1; w <= numWorkers; w++ {
		go func(w int) {
			for {
				select {
				case <-ctx.Done():
					i.logger.Info("worker shutting down", "worker", w)
					return
				case docID := <-i.jobs:
					i.logger.Debug("processing document", "document_id", docID, "worker", w)
					if err := i.ProcessOne(ctx, docID); err != nil {
						i.logger.Warn("document not processed", "document_id", docID, "worker", w, "error", err)
					}
				}
			}
		}(w)
	}
}

// Enqueue schedules a document ID for ingestion.
// If the queue is full, this call will block until space frees up.
func (i *DocumentIngestor) Enqueue(docID string) {
	i.jobs <- docID
}

// ProcessOne runs docID as a batch of one and turns a non-success outcome
// into an error.
func (i *DocumentIngestor) ProcessOne(ctx context.Context, docID string) error {
	report, err := i.orch.ProcessBatch(ctx, []string{docID}, 1, nil)
	if err != nil {
		return err
	}
	switch {
	case len(report.Failed) > 0:
		return errors.New(report.Failed[0].Error)
	case len(report.TimedOut) > 0:
		return fmt.Errorf("document %s timed out", docID)
	case len(report.SkippedOversized) > 0:
		return fmt.Errorf("document %s skipped: %s", docID, report.SkippedOversized[0].Reason)
	}
	return nil
}
