package ingestion_engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/clindoc/internal/config"
	"github.com/markdave123-py/clindoc/internal/core"
	db "github.com/markdave123-py/clindoc/internal/core/database"
	"github.com/markdave123-py/clindoc/internal/core/extraction"
	objectclient "github.com/markdave123-py/clindoc/internal/core/object-client"
	"github.com/markdave123-py/clindoc/internal/models"
)

func testSettings(timeout time.Duration) config.PipelineSettings {
	s := config.DefaultPipelineSettings()
	s.Timeout = timeout
	s.Workers = 2
	return s
}

// fakeExtractor echoes the payload as text unless fn overrides it.
type fakeExtractor struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(ctx context.Context, req extraction.Request) core.ExtractionResult
}

func (f *fakeExtractor) Extract(ctx context.Context, req extraction.Request) core.ExtractionResult {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[req.DocumentID]++
	f.mu.Unlock()

	if f.fn != nil {
		return f.fn(ctx, req)
	}
	return core.Ok(string(req.Data), 1, "fake")
}

func (f *fakeExtractor) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeExtractor) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

type recordingAudit struct {
	mu     sync.Mutex
	events []core.AuditEvent
}

func (r *recordingAudit) Log(_ context.Context, e core.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingAudit) names(documentID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.DocumentID == documentID {
			out = append(out, e.Name)
		}
	}
	return out
}

// nameFilter redacts one literal name.
type nameFilter struct {
	name string
	err  error
}

func (f nameFilter) Redact(_ context.Context, text string) (string, map[string]int, error) {
	if f.err != nil {
		return "", nil, f.err
	}
	n := strings.Count(text, f.name)
	return strings.ReplaceAll(text, f.name, "[NAME]"), map[string]int{"name": n}, nil
}

func pageTree(pages int) []byte {
	var b strings.Builder
	b.WriteString("%PDF-1.4\n1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	fmt.Fprintf(&b, "2 0 obj\n<< /Type /Pages /Kids [] /Count %d >>\nendobj\n", pages)
	return []byte(b.String())
}

type harness struct {
	store   *db.DatabaseClient
	objects *objectclient.FSClient
	engine  *fakeExtractor
	audit   *recordingAudit
	coord   *Coordinator
	orch    *Orchestrator
}

func newHarness(t *testing.T, timeout time.Duration) *harness {
	t.Helper()
	dir := t.TempDir()

	store, err := db.Open(context.Background(), "sqlite://"+filepath.Join(dir, "clindoc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	objects, err := objectclient.NewFSClient(filepath.Join(dir, "objects"))
	require.NoError(t, err)

	h := &harness{store: store, objects: objects, engine: &fakeExtractor{}, audit: &recordingAudit{}}
	h.coord, err = NewCoordinator(h.engine, nameFilter{name: "Jane Roe"}, h.audit, nil)
	require.NoError(t, err)

	set := testSettings(timeout)
	h.orch, err = NewOrchestrator(store, objects, h.coord, func() (config.PipelineSettings, error) { return set, nil }, nil)
	require.NoError(t, err)
	return h
}

func (h *harness) add(t *testing.T, id, contentType, fileName string, data []byte) {
	t.Helper()
	ctx := context.Background()
	u, err := h.objects.UploadFile(ctx, "clindoc-docs", "clinic-a/"+id+"/"+fileName, bytes.NewReader(data), contentType)
	require.NoError(t, err)
	require.NoError(t, h.store.CreateDocument(ctx, &models.Document{
		ID:          id,
		TenantID:    "clinic-a",
		FileName:    fileName,
		StorageURL:  u,
		SourceType:  models.SourceUpload,
		ContentType: contentType,
	}))
}

func (h *harness) doc(t *testing.T, id string) *models.Document {
	t.Helper()
	d, err := h.store.GetDocumentByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, d)
	return d
}

// failingSaves hands out sessions whose SaveOutcome fails while failures is
// positive.
type failingSaves struct {
	core.DbClient
	failures atomic.Int32
}

func (f *failingSaves) Session(ctx context.Context) (core.DbSession, error) {
	sess, err := f.DbClient.Session(ctx)
	if err != nil {
		return nil, err
	}
	return &failingSession{DbSession: sess, parent: f}, nil
}

type failingSession struct {
	core.DbSession
	parent *failingSaves
}

func (s *failingSession) SaveOutcome(ctx context.Context, o core.DocumentOutcome) error {
	if s.parent.failures.Add(-1) >= 0 {
		return errors.New("disk full")
	}
	return s.DbSession.SaveOutcome(ctx, o)
}
