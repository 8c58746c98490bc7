// Package ocr bounds bitmap recognition in time and turns word boxes into a
// single text and confidence.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Status tells the three recognition endings apart. A timeout is never
// reported as NoText and NoText is never reported with a score.
type Status int

const (
	StatusRecognized Status = iota
	StatusNoText
	StatusTimedOut
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusRecognized:
		return "recognized"
	case StatusNoText:
		return "no-text"
	case StatusTimedOut:
		return "timed-out"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Recognition is what the breaker hands back to an extraction strategy.
// Confidence is meaningful only when Status is StatusRecognized.
type Recognition struct {
	Status     Status
	Text       string
	Confidence float64
	Err        error
	Elapsed    time.Duration
}

// ErrTimeout is attached to timed out recognitions.
var ErrTimeout = errors.New("ocr timed out")

// Breaker runs a recognizer under a hard deadline. One Breaker is shared by
// every worker of a batch; it holds no mutable state.
type Breaker struct {
	timeout time.Duration
	floor   float64
	logger  *slog.Logger
}

// NewBreaker returns a breaker. minTokenConfidence is in [0,1]; tokens below
// it are dropped from both text and score.
func NewBreaker(timeout time.Duration, minTokenConfidence float64, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{timeout: timeout, floor: minTokenConfidence, logger: logger}
}

func (b *Breaker) Timeout() time.Duration { return b.timeout }

// Run recognizes in with r. It returns as soon as the recognizer finishes,
// the timeout elapses, or ctx is cancelled, whichever comes first. On timeout
// the in-flight call is cancelled and abandoned; its result, if it ever
// arrives, is discarded.
func (b *Breaker) Run(ctx context.Context, r Recognizer, in Input) Recognition {
	ctx, span := otel.Tracer("clindoc/ocr").Start(ctx, "ocr.recognize")
	defer span.End()
	span.SetAttributes(attribute.String("ocr.input", in.ID), attribute.String("ocr.engine", r.Name()))

	start := time.Now()
	rec := b.run(ctx, r, in)
	rec.Elapsed = time.Since(start)

	span.SetAttributes(attribute.String("ocr.status", rec.Status.String()))
	switch rec.Status {
	case StatusTimedOut:
		span.SetStatus(codes.Error, "timeout")
		b.logger.Warn("ocr timed out", "input", in.ID, "engine", r.Name(), "timeout", b.timeout)
	case StatusFailed:
		span.RecordError(rec.Err)
		span.SetStatus(codes.Error, rec.Err.Error())
		b.logger.Warn("ocr failed", "input", in.ID, "engine", r.Name(), "error", rec.Err)
	}
	return rec
}

type outcome struct {
	res Result
	err error
}

func (b *Breaker) run(parent context.Context, r Recognizer, in Input) Recognition {
	ctx, cancel := context.WithTimeout(parent, b.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("recognizer panic: %v", p)}
			}
		}()
		res, err := r.Recognize(ctx, in)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			if ctx.Err() != nil {
				return Recognition{Status: StatusTimedOut, Err: ErrTimeout}
			}
			return Recognition{Status: StatusFailed, Err: o.err}
		}
		text, conf := Aggregate(o.res.Words, b.floor)
		if text == "" {
			return Recognition{Status: StatusNoText}
		}
		return Recognition{Status: StatusRecognized, Text: text, Confidence: conf}
	case <-ctx.Done():
		return Recognition{Status: StatusTimedOut, Err: ErrTimeout}
	}
}

// Aggregate joins the words at or above floor into lines and averages their
// confidence. It returns ("", 0) when no word survives.
func Aggregate(words []Word, floor float64) (string, float64) {
	var (
		b    strings.Builder
		sum  float64
		kept int
		line = -1
	)
	for _, w := range words {
		token := strings.TrimSpace(w.Text)
		if token == "" || w.Confidence < floor {
			continue
		}
		switch {
		case kept == 0:
		case w.Line != line:
			b.WriteByte('\n')
		default:
			b.WriteByte(' ')
		}
		line = w.Line
		b.WriteString(token)
		sum += w.Confidence
		kept++
	}
	if kept == 0 {
		return "", 0
	}
	return b.String(), sum / float64(kept)
}
