// Package tesseract provides the cgo-backed OCR engine. It lives apart from
// package ocr so that builds without libtesseract can still use the breaker.
package tesseract

import (
	"context"
	"fmt"
	"strconv"

	"github.com/otiai10/gosseract/v2"

	"github.com/markdave123-py/clindoc/internal/core/ocr"
)

// Engine recognizes images with a fresh gosseract client per call; clients
// are not safe to share across goroutines.
type Engine struct {
	clientFactory func() *gosseract.Client
}

func NewEngine() *Engine {
	return &Engine{clientFactory: gosseract.NewClient}
}

func (e *Engine) Name() string { return "tesseract" }

func (e *Engine) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	if err := ctx.Err(); err != nil {
		return ocr.Result{}, err
	}

	c := e.clientFactory()
	defer c.Close()

	if in.Language != "" {
		if err := c.SetLanguage(in.Language); err != nil {
			return ocr.Result{}, fmt.Errorf("set language: %w", err)
		}
	}
	if in.DPI > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), strconv.Itoa(in.DPI)); err != nil {
			return ocr.Result{}, fmt.Errorf("set dpi: %w", err)
		}
	}
	if err := c.SetImageFromBytes(in.Image); err != nil {
		return ocr.Result{}, fmt.Errorf("set image: %w", err)
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return ocr.Result{}, fmt.Errorf("recognize words: %w", err)
	}

	words := make([]ocr.Word, 0, len(boxes))
	line := 0
	var prev [3]int
	for i, b := range boxes {
		key := [3]int{b.BlockNum, b.ParNum, b.LineNum}
		if i > 0 && key != prev {
			line++
		}
		prev = key
		words = append(words, ocr.Word{
			Text:       b.Word,
			Confidence: b.Confidence / 100.0,
			Line:       line,
		})
	}
	return ocr.Result{Words: words}, nil
}
