package extraction

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// OpenPDF returns an opener that parses the document with pdfcpu and renders
// pages with pdftoppm. When pdfcpu cannot parse the file, the whole document
// is converted up front and the number of rendered pages is the page count.
func OpenPDF(runner Runner, pdftoppm string) SourceOpener {
	return func(ctx context.Context, data []byte, dpi, maxPages int) (PageSource, error) {
		dir, err := os.MkdirTemp("", "clindoc-pdf-*")
		if err != nil {
			return nil, fmt.Errorf("temp dir: %w", err)
		}
		path := filepath.Join(dir, "document.pdf")
		if err := os.WriteFile(path, data, 0o600); err != nil {
			os.RemoveAll(dir)
			return nil, fmt.Errorf("write pdf: %w", err)
		}

		conf := model.NewDefaultConfiguration()
		conf.ValidationMode = model.ValidationRelaxed
		pctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
		if err == nil {
			return &pdfcpuSource{ctx: pctx, dir: dir, path: path, runner: runner, bin: pdftoppm}, nil
		}

		src, rerr := renderAll(ctx, runner, pdftoppm, dir, path, dpi, maxPages)
		if rerr != nil {
			os.RemoveAll(dir)
			return nil, fmt.Errorf("pdfcpu: %v; pdftoppm: %w", err, rerr)
		}
		return src, nil
	}
}

type pdfcpuSource struct {
	ctx    *model.Context
	dir    string
	path   string
	runner Runner
	bin    string
}

func (s *pdfcpuSource) PageCount() int { return s.ctx.PageCount }

func (s *pdfcpuSource) EmbeddedText(page int) string {
	r, err := pdfcpu.ExtractPageContent(s.ctx, page)
	if err != nil || r == nil {
		return ""
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return ""
	}
	return textFromContentStream(content)
}

func (s *pdfcpuSource) Render(ctx context.Context, page, dpi int) ([]byte, error) {
	prefix := filepath.Join(s.dir, "page-"+strconv.Itoa(page))
	p := strconv.Itoa(page)
	_, stderr, err := s.runner.Run(ctx, s.bin,
		"-f", p, "-l", p, "-r", strconv.Itoa(dpi), "-gray", "-png", "-singlefile", s.path, prefix)
	if err != nil {
		return nil, fmt.Errorf("pdftoppm page %d: %w: %s", page, err, truncate(strings.TrimSpace(string(stderr)), 200))
	}
	img, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("read rendered page %d: %w", page, err)
	}
	return img, nil
}

func (s *pdfcpuSource) Close() error { return os.RemoveAll(s.dir) }

// renderedSource holds pages that were all rasterized at open time. It has no
// text layer.
type renderedSource struct {
	dir   string
	pages []string
}

// renderAll converts at most maxPages+1 pages: one past the ceiling is enough
// to prove the document oversized without paying for the rest.
func renderAll(ctx context.Context, runner Runner, bin, dir, path string, dpi, maxPages int) (*renderedSource, error) {
	prefix := filepath.Join(dir, "all")
	args := []string{"-r", strconv.Itoa(dpi), "-gray", "-png"}
	if maxPages > 0 {
		args = append(args, "-l", strconv.Itoa(maxPages+1))
	}
	args = append(args, path, prefix)

	if _, stderr, err := runner.Run(ctx, bin, args...); err != nil {
		return nil, fmt.Errorf("%w: %s", err, truncate(strings.TrimSpace(string(stderr)), 200))
	}

	pages, _ := filepath.Glob(prefix + "-*.png")
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages rendered")
	}
	sort.Slice(pages, func(i, j int) bool { return pageNumber(pages[i]) < pageNumber(pages[j]) })
	return &renderedSource{dir: dir, pages: pages}, nil
}

// pageNumber parses the trailing number pdftoppm puts in "all-07.png".
func pageNumber(path string) int {
	base := strings.TrimSuffix(filepath.Base(path), ".png")
	n, _ := strconv.Atoi(base[strings.LastIndexByte(base, '-')+1:])
	return n
}

func (s *renderedSource) PageCount() int { return len(s.pages) }

func (s *renderedSource) EmbeddedText(int) string { return "" }

func (s *renderedSource) Render(_ context.Context, page, _ int) ([]byte, error) {
	if page < 1 || page > len(s.pages) {
		return nil, fmt.Errorf("page %d out of range", page)
	}
	return os.ReadFile(s.pages[page-1])
}

func (s *renderedSource) Close() error { return os.RemoveAll(s.dir) }
