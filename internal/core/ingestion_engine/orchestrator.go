package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/clindoc/internal/config"
	"github.com/markdave123-py/clindoc/internal/core"
	"github.com/markdave123-py/clindoc/internal/models"
)

// maxWorkers caps the pool below the Postgres connection limit, since every
// worker pins one connection for the whole batch.
const maxWorkers = 16

// SettingsFunc takes the per-batch configuration snapshot. config.Snapshot
// satisfies it.
type SettingsFunc func() (config.PipelineSettings, error)

// ProgressFunc is told about every resolved document. Panics are swallowed.
type ProgressFunc func(completed, total int, documentID string)

type FailedDocument struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type SkippedDocument struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// BatchReport lists every document of a batch in exactly one bucket.
type BatchReport struct {
	ID               string            `json:"batch_id"`
	Total            int               `json:"total"`
	Successful       []string          `json:"successful"`
	AlreadyProcessed []string          `json:"already_processed"`
	Failed           []FailedDocument  `json:"failed"`
	SkippedOversized []SkippedDocument `json:"skipped_oversized"`
	TimedOut         []string          `json:"timed_out"`
	Duration         time.Duration     `json:"-"`
	DurationSeconds  float64           `json:"duration_seconds"`
	Throughput       float64           `json:"throughput_per_second"`
}

// Resolved counts the documents that reached a terminal state.
func (r *BatchReport) Resolved() int {
	return len(r.Successful) + len(r.AlreadyProcessed) + len(r.Failed) + len(r.SkippedOversized) + len(r.TimedOut)
}

type resultKind int

const (
	resultSuccess resultKind = iota
	resultAlreadyProcessed
	resultFailed
	resultOversized
	resultTimedOut
)

type docResult struct {
	id     string
	kind   resultKind
	reason string
}

func (r *BatchReport) add(res docResult) {
	switch res.kind {
	case resultSuccess:
		r.Successful = append(r.Successful, res.id)
	case resultAlreadyProcessed:
		r.AlreadyProcessed = append(r.AlreadyProcessed, res.id)
	case resultOversized:
		r.SkippedOversized = append(r.SkippedOversized, SkippedDocument{ID: res.id, Reason: res.reason})
	case resultTimedOut:
		r.TimedOut = append(r.TimedOut, res.id)
	default:
		r.Failed = append(r.Failed, FailedDocument{ID: res.id, Error: res.reason})
	}
}

// Orchestrator fans a batch of stored documents out to a bounded worker pool.
type Orchestrator struct {
	store    core.DbClient
	objects  core.ObjectClient
	coord    *Coordinator
	settings SettingsFunc
	logger   *slog.Logger
}

func NewOrchestrator(store core.DbClient, objects core.ObjectClient, coordinator *Coordinator, settings SettingsFunc, logger *slog.Logger) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("orchestrator: db client is nil")
	}
	if objects == nil {
		return nil, errors.New("orchestrator: object client is nil")
	}
	if coordinator == nil {
		return nil, errors.New("orchestrator: coordinator is nil")
	}
	if settings == nil {
		settings = config.Snapshot
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{store: store, objects: objects, coord: coordinator, settings: settings, logger: logger}, nil
}

// ProcessBatch processes ids with at most workers concurrent documents
// (settings default when workers <= 0). The whole batch shares one deadline
// equal to the configured timeout; documents unresolved by then are marked
// timed out and their work is abandoned.
func (o *Orchestrator) ProcessBatch(ctx context.Context, ids []string, workers int, progress ProgressFunc) (*BatchReport, error) {
	set, err := o.settings()
	if err != nil {
		return nil, fmt.Errorf("snapshot pipeline settings: %w", err)
	}
	set = set.Normalize()

	ids = dedupe(ids)
	report := &BatchReport{ID: uuid.NewString(), Total: len(ids)}
	start := time.Now()

	if workers <= 0 {
		workers = set.Workers
	}
	workers = min(workers, maxWorkers, max(len(ids), 1))

	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "batch.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("batch.id", report.ID),
		attribute.Int("batch.size", len(ids)),
		attribute.Int("batch.workers", workers),
	)

	logger := o.logger.With("batch_id", report.ID)
	logger.Info("batch started", "documents", len(ids), "workers", workers, "timeout", set.Timeout, "max_pages", set.MaxPages)

	bctx, cancel := context.WithTimeout(ctx, set.Timeout)
	defer cancel()

	jobs := make(chan string)
	results := make(chan docResult, len(ids))

	go func() {
		defer close(jobs)
		for _, id := range ids {
			select {
			case jobs <- id:
			case <-bctx.Done():
				return
			}
		}
	}()

	var g errgroup.Group
	for w := 1; w <= workers; w++ {
		g.Go(func() error {
			o.worker(bctx, set, jobs, results)
			return nil
		})
	}

	resolved := make(map[string]bool, len(ids))
	record := func(res docResult) {
		if resolved[res.id] {
			return
		}
		resolved[res.id] = true
		report.add(res)
		o.notify(logger, progress, len(resolved), len(ids), res.id)
	}

wait:
	for len(resolved) < len(ids) {
		select {
		case res := <-results:
			record(res)
		case <-bctx.Done():
			break wait
		}
	}

	reason := "batch deadline exceeded"
	if errors.Is(bctx.Err(), context.Canceled) {
		reason = "batch cancelled"
	}

	if unresolved := len(ids) - len(resolved); unresolved > 0 {
		// Keep outcomes that were delivered while the deadline fired.
	drain:
		for {
			select {
			case res := <-results:
				record(res)
			default:
				break drain
			}
		}

		for _, id := range ids {
			if !resolved[id] {
				record(docResult{id: id, kind: resultTimedOut, reason: reason})
			}
		}
		logger.Warn("batch deadline reached, abandoning in-flight documents", "unresolved", unresolved)

		go func() {
			_ = g.Wait()
			logger.Debug("abandoned workers exited")
		}()
	} else {
		_ = g.Wait()
	}

	// Documents the breaker timed out are already saved as timed out; this
	// only touches the ones left in uploaded or processing.
	if len(report.TimedOut) > 0 {
		if err := o.markTimedOut(ctx, report.TimedOut, reason); err != nil {
			logger.Error("failed to mark timed out documents", "error", err)
		}
	}

	report.Duration = time.Since(start)
	report.DurationSeconds = report.Duration.Seconds()
	if secs := report.Duration.Seconds(); secs > 0 {
		report.Throughput = float64(report.Resolved()) / secs
	}

	span.SetAttributes(
		attribute.Int("batch.successful", len(report.Successful)),
		attribute.Int("batch.failed", len(report.Failed)),
		attribute.Int("batch.timed_out", len(report.TimedOut)),
	)
	logger.Info("batch finished",
		"total", report.Total,
		"successful", len(report.Successful),
		"already_processed", len(report.AlreadyProcessed),
		"failed", len(report.Failed),
		"oversized", len(report.SkippedOversized),
		"timed_out", len(report.TimedOut),
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report, nil
}

// markTimedOut runs after the batch context has expired, so it gets its own
// short deadline.
func (o *Orchestrator) markTimedOut(ctx context.Context, ids []string, reason string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return o.store.MarkTimedOut(ctx, ids, reason)
}

func (o *Orchestrator) notify(logger *slog.Logger, progress ProgressFunc, done, total int, id string) {
	if progress == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			logger.Warn("progress callback panicked", "document_id", id, "panic", p)
		}
	}()
	progress(done, total, id)
}

// worker owns one session for its lifetime. A worker that cannot get a
// session still drains its share of jobs so each one is reported.
func (o *Orchestrator) worker(ctx context.Context, set config.PipelineSettings, jobs <-chan string, results chan<- docResult) {
	sess, err := o.store.Session(ctx)
	if err == nil {
		defer sess.Close()
	}
	for id := range jobs {
		if err != nil {
			results <- docResult{id: id, kind: resultFailed, reason: fmt.Sprintf("acquire session: %v", err)}
			continue
		}
		results <- o.runOne(ctx, sess, set, id)
	}
}

func (o *Orchestrator) runOne(ctx context.Context, sess core.DbSession, set config.PipelineSettings, id string) (res docResult) {
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("worker panic", "document_id", id, "panic", p)
			res = o.fail(ctx, sess, id, fmt.Sprintf("worker panic: %v", p))
		}
	}()

	doc, err := sess.GetDocumentByID(ctx, id)
	if err != nil {
		return o.fail(ctx, sess, id, fmt.Sprintf("load document: %v", err))
	}
	if doc == nil {
		return docResult{id: id, kind: resultFailed, reason: core.ErrDocumentNotFound.Error()}
	}
	if doc.Status == models.StatusProcessed {
		return docResult{id: id, kind: resultAlreadyProcessed}
	}

	data, err := o.fetch(ctx, doc.StorageURL)
	if err != nil {
		return o.fail(ctx, sess, id, fmt.Sprintf("fetch document bytes: %v", err))
	}

	raw := core.RawDocument{
		ID:          doc.ID,
		TenantID:    doc.TenantID,
		PatientID:   doc.PatientID,
		Source:      doc.SourceType,
		Data:        data,
		ContentType: doc.ContentType,
		Title:       doc.FileName,
	}

	m := o.coord.Measure(raw, set)
	if m.Profile.PageCount != nil {
		if err := sess.RecordPageCount(ctx, id, *m.Profile.PageCount); err != nil {
			o.logger.Warn("page count not recorded", "document_id", id, "error", err)
		}
	}
	if doc.Status == models.StatusOversized && m.Profile.ExceedsLimit {
		return docResult{id: id, kind: resultOversized, reason: core.Oversized(*m.Profile.PageCount, set.MaxPages).Reason}
	}

	if err := sess.MarkProcessing(ctx, id); err != nil {
		return o.fail(ctx, sess, id, fmt.Sprintf("mark processing: %v", err))
	}

	p := o.coord.process(ctx, set, raw, m)
	if r, stop := o.deadline(ctx, id); stop {
		return r
	}

	outcome := core.DocumentOutcome{
		DocumentID: id,
		Status:     statusFor(p.Result.Outcome),
		Format:     p.Format,
		Outcome:    p.Result.Outcome,
		Reason:     p.Result.Reason,
		PageCount:  p.PageCount(),
		Confidence: p.Result.Confidence,
		TextLength: p.TextLength,
		PHICounts:  p.PHICounts,
		Chunks:     p.Chunks,
	}
	if err := sess.SaveOutcome(ctx, outcome); err != nil {
		return o.fail(ctx, sess, id, fmt.Sprintf("save outcome: %v", err))
	}

	return resultFor(id, p.Result)
}

func (o *Orchestrator) fetch(ctx context.Context, storageURL string) ([]byte, error) {
	bucket, key, err := o.objects.ParseURL(storageURL)
	if err != nil {
		return nil, err
	}
	return o.objects.GetFile(ctx, bucket, key)
}

// save writes outcome through the worker's session. When that fails, the
// status alone is written through the pool so the row does not stay in
// "processing".
func (o *Orchestrator) save(ctx context.Context, sess core.DbSession, outcome core.DocumentOutcome) {
	err := sess.SaveOutcome(ctx, outcome)
	if err == nil {
		return
	}
	o.logger.Error("outcome not saved", "document_id", outcome.DocumentID, "status", outcome.Status, "error", err)
	if err := o.store.UpdateDocumentStatus(ctx, outcome.DocumentID, outcome.Status); err != nil {
		o.logger.Error("status not saved", "document_id", outcome.DocumentID, "status", outcome.Status, "error", err)
	}
}

// deadline turns an expired batch context into a timed-out result. The
// orchestrator marks such documents in the store once the batch ends.
func (o *Orchestrator) deadline(ctx context.Context, id string) (docResult, bool) {
	if err := ctx.Err(); err != nil {
		return docResult{id: id, kind: resultTimedOut, reason: err.Error()}, true
	}
	return docResult{}, false
}

// fail records a tool error with its reason, unless the batch deadline has
// already claimed the document.
func (o *Orchestrator) fail(ctx context.Context, sess core.DbSession, id, reason string) docResult {
	if r, stop := o.deadline(ctx, id); stop {
		return r
	}
	o.save(ctx, sess, core.DocumentOutcome{
		DocumentID: id,
		Status:     models.StatusFailed,
		Outcome:    core.OutcomeToolError,
		Reason:     reason,
	})
	return docResult{id: id, kind: resultFailed, reason: reason}
}

func statusFor(o core.Outcome) string {
	switch o {
	case core.OutcomeOK, core.OutcomeEmpty:
		return models.StatusProcessed
	case core.OutcomeOversized:
		return models.StatusOversized
	case core.OutcomeTimeout:
		return models.StatusTimedOut
	case core.OutcomeUnsupported:
		return models.StatusUnsupported
	}
	return models.StatusFailed
}

func resultFor(id string, res core.ExtractionResult) docResult {
	switch res.Outcome {
	case core.OutcomeOK, core.OutcomeEmpty:
		return docResult{id: id, kind: resultSuccess}
	case core.OutcomeOversized:
		return docResult{id: id, kind: resultOversized, reason: res.Reason}
	case core.OutcomeTimeout:
		return docResult{id: id, kind: resultTimedOut, reason: res.Reason}
	}
	return docResult{id: id, kind: resultFailed, reason: fmt.Sprintf("%s: %s", res.Outcome, res.Reason)}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
