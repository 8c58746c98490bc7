package extraction

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/clindoc/internal/config"
	"github.com/markdave123-py/clindoc/internal/core/ocr"
)

func testSettings() config.PipelineSettings {
	s := config.DefaultPipelineSettings()
	s.Timeout = 50 * time.Millisecond
	s.Workers = 2
	return s
}

// fakePage describes one page of a fakeSource.
type fakePage struct {
	embedded string
	// ocr is what the recognizer returns for this page's bitmap; hang makes
	// the recognizer block past the breaker timeout.
	ocr  []ocr.Word
	hang bool
}

type fakeSource struct {
	pages    []fakePage
	count    int
	renders  atomic.Int32
	closed   bool
	renderFn func(page int) ([]byte, error)
}

func (s *fakeSource) PageCount() int {
	if s.count > 0 {
		return s.count
	}
	return len(s.pages)
}

func (s *fakeSource) EmbeddedText(page int) string { return s.pages[page-1].embedded }

func (s *fakeSource) Render(_ context.Context, page, _ int) ([]byte, error) {
	s.renders.Add(1)
	if s.renderFn != nil {
		return s.renderFn(page)
	}
	return []byte{byte(page)}, nil
}

func (s *fakeSource) Close() error { s.closed = true; return nil }

func (s *fakeSource) opener() SourceOpener {
	return func(context.Context, []byte, int, int) (PageSource, error) { return s, nil }
}

// pageRecognizer answers with the words configured for the page whose number
// is the single byte of the rendered "bitmap".
type pageRecognizer struct {
	pages   []fakePage
	calls   atomic.Int32
	release chan struct{}
}

func newPageRecognizer(t *testing.T, pages []fakePage) *pageRecognizer {
	r := &pageRecognizer{pages: pages, release: make(chan struct{})}
	t.Cleanup(func() { close(r.release) })
	return r
}

func (r *pageRecognizer) Name() string { return "fake" }

func (r *pageRecognizer) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	r.calls.Add(1)
	p := r.pages[int(in.Image[0])-1]
	if p.hang {
		<-r.release
	}
	return ocr.Result{Words: p.ocr}, nil
}

// fakeRunner records invocations and answers from a per-command script.
type fakeRunner struct {
	calls  []string
	script map[string]func(args []string) ([]byte, []byte, error)
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	r.calls = append(r.calls, name)
	if fn, ok := r.script[name]; ok {
		return fn(args)
	}
	return nil, []byte("command not found"), errNotFound
}

type runnerError string

func (e runnerError) Error() string { return string(e) }

const errNotFound = runnerError("exec: not found")

func pngImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		img.Set(x, 4, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
