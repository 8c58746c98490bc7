package extraction

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"code.sajari.com/docconv"

	"github.com/markdave123-py/clindoc/internal/config"
	"github.com/markdave123-py/clindoc/internal/core"
)

const (
	antiwordConfidence = 0.95
	catdocConfidence   = 0.9
	convertedPDFFactor = 0.9
)

func extractDocx(_ context.Context, req Request) core.ExtractionResult {
	text, _, err := docconv.ConvertDocx(bytes.NewReader(req.Data))
	if err != nil {
		return core.Rejected(core.OutcomeToolError, fmt.Sprintf("docx: %v", err))
	}
	return core.Ok(normalizeText(text), 1.0, "docx")
}

// LegacyDocChain extracts binary Word documents with antiword, then catdoc,
// then by converting to PDF with LibreOffice and running pdf on the result.
func LegacyDocChain(runner Runner, tools config.Tools, pdf Strategy) Chain {
	cli := func(name, bin string, confidence float64, args ...string) Step {
		return Step{Name: name, Run: func(ctx context.Context, req Request) (core.ExtractionResult, error) {
			var res core.ExtractionResult
			err := withTempFile(req.Data, "document.doc", func(path string) error {
				out, stderr, err := runner.Run(ctx, bin, append(args, path)...)
				if err != nil {
					return tryNext("%v: %s", err, truncate(strings.TrimSpace(string(stderr)), 200))
				}
				text := normalizeText(string(out))
				if text == "" {
					return tryNext("no text")
				}
				res = core.Ok(text, confidence, name)
				return nil
			})
			return res, err
		}}
	}

	convert := Step{Name: "soffice-pdf", Run: func(ctx context.Context, req Request) (core.ExtractionResult, error) {
		var res core.ExtractionResult
		err := withTempFile(req.Data, "document.doc", func(path string) error {
			outDir := filepath.Dir(path)
			_, stderr, err := runner.Run(ctx, tools.Soffice, "--headless", "--convert-to", "pdf", "--outdir", outDir, path)
			if err != nil {
				return tryNext("%v: %s", err, truncate(strings.TrimSpace(string(stderr)), 200))
			}
			converted, err := os.ReadFile(filepath.Join(outDir, "document.pdf"))
			if err != nil {
				return tryNext("converted pdf missing: %v", err)
			}

			sub := req
			sub.Format = core.FormatPDF
			sub.Data = converted
			res = pdf.Extract(ctx, sub)
			switch res.Outcome {
			case core.OutcomeOK:
				res.Confidence *= convertedPDFFactor
				res.Method = "soffice-pdf"
			case core.OutcomeEmpty:
				return tryNext("converted pdf has no text")
			}
			return nil
		})
		return res, err
	}}

	return Chain{
		cli("antiword", tools.Antiword, antiwordConfidence),
		cli("catdoc", tools.Catdoc, catdocConfidence, "-w"),
		convert,
	}
}

// withTempFile writes data to a private directory that is removed after fn.
func withTempFile(data []byte, name string, fn func(path string) error) error {
	dir, err := os.MkdirTemp("", "clindoc-*")
	if err != nil {
		return fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	return fn(path)
}
