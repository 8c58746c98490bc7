// Package sniffer resolves the true content format of a document payload.
//
// Magic bytes always win over the caller's declared content type and file
// name, because EMR feeds routinely mislabel PDFs and scans as text/plain.
package sniffer

import (
	"bytes"
	"mime"
	"path/filepath"
	"strings"

	"github.com/markdave123-py/clindoc/internal/core"
)

const (
	magicWindow    = 1024
	maxDecodeDepth = 3
)

var (
	sigPDF     = []byte("%PDF")
	sigJPEG    = []byte{0xFF, 0xD8, 0xFF}
	sigPNG     = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
	sigTIFFLE  = []byte{'I', 'I', '*', 0x00}
	sigTIFFBE  = []byte{'M', 'M', 0x00, '*'}
	sigBMP     = []byte("BM")
	sigOLE     = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	sigZIP     = []byte{'P', 'K', 0x03, 0x04}
	docxMarker = []byte("word/")
)

var contentTypes = map[string]core.Format{
	"application/pdf":   core.FormatPDF,
	"application/x-pdf": core.FormatPDF,
	"image/jpeg":        core.FormatJPEG,
	"image/jpg":         core.FormatJPEG,
	"image/pjpeg":       core.FormatJPEG,
	"image/png":         core.FormatPNG,
	"image/tiff":        core.FormatTIFF,
	"image/bmp":         core.FormatBMP,
	"image/x-ms-bmp":    core.FormatBMP,

	"text/html":             core.FormatHTML,
	"application/xhtml+xml": core.FormatHTML,
	"text/plain":            core.FormatText,
	"text/rtf":              core.FormatText,
	"application/msword":    core.FormatDOC,

	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": core.FormatDOCX,
}

var extensions = map[string]core.Format{
	".pdf":  core.FormatPDF,
	".jpg":  core.FormatJPEG,
	".jpeg": core.FormatJPEG,
	".png":  core.FormatPNG,
	".tif":  core.FormatTIFF,
	".tiff": core.FormatTIFF,
	".bmp":  core.FormatBMP,
	".html": core.FormatHTML,
	".htm":  core.FormatHTML,
	".docx": core.FormatDOCX,
	".doc":  core.FormatDOC,
	".txt":  core.FormatText,
	".text": core.FormatText,
}

// Sniff resolves the format of data. It is pure: the same input always
// yields the same verdict. An unknown Kind means the pipeline must treat the
// document as unsupported.
func Sniff(data []byte, declaredContentType, declaredFilename string) core.ResolvedFormat {
	return sniff(data, declaredContentType, declaredFilename, 0)
}

func sniff(data []byte, declaredContentType, declaredFilename string, depth int) core.ResolvedFormat {
	if depth < maxDecodeDepth {
		if decoded, ok := decodeWrapped(data); ok {
			return sniff(decoded, declaredContentType, declaredFilename, depth+1)
		}
	}

	if reason, ok := externalReference(data); ok {
		return core.ResolvedFormat{Kind: core.FormatUnknown, Payload: data, Reason: reason}
	}

	if kind, ok := MagicFormat(data); ok {
		return core.ResolvedFormat{Kind: kind, Confidence: 1.0, Payload: data}
	}

	if kind, ok := fromContentType(declaredContentType); ok {
		return core.ResolvedFormat{Kind: kind, Confidence: 0.7, Payload: data}
	}

	if kind, ok := fromExtension(declaredFilename); ok {
		return core.ResolvedFormat{Kind: kind, Confidence: 0.6, Payload: data}
	}

	if looksLikeText(data) {
		return core.ResolvedFormat{Kind: core.FormatText, Confidence: 0.5, Payload: data}
	}

	return core.ResolvedFormat{
		Kind:    core.FormatUnknown,
		Payload: data,
		Reason:  "no signature, content type or extension matched",
	}
}

// MagicFormat inspects leading bytes only. A PDF header is accepted anywhere
// in the first kilobyte because some producers prepend junk.
func MagicFormat(data []byte) (core.Format, bool) {
	head := data
	if len(head) > magicWindow {
		head = head[:magicWindow]
	}

	switch {
	case bytes.Contains(head, sigPDF):
		return core.FormatPDF, true
	case bytes.HasPrefix(data, sigJPEG):
		return core.FormatJPEG, true
	case bytes.HasPrefix(data, sigPNG):
		return core.FormatPNG, true
	case bytes.HasPrefix(data, sigTIFFLE), bytes.HasPrefix(data, sigTIFFBE):
		return core.FormatTIFF, true
	case isBMP(data):
		return core.FormatBMP, true
	case isHTML(head):
		return core.FormatHTML, true
	case bytes.HasPrefix(data, sigOLE):
		return core.FormatDOC, true
	case bytes.HasPrefix(data, sigZIP) && bytes.Contains(data, docxMarker):
		return core.FormatDOCX, true
	}
	return "", false
}

// isBMP requires the reserved header words to be zero so that text starting
// with "BM" is not mistaken for a bitmap.
func isBMP(data []byte) bool {
	if !bytes.HasPrefix(data, sigBMP) || len(data) < 14 {
		return false
	}
	return data[6] == 0 && data[7] == 0 && data[8] == 0 && data[9] == 0
}

func isHTML(head []byte) bool {
	trimmed := bytes.TrimLeft(bytes.TrimPrefix(head, []byte("\xEF\xBB\xBF")), " \t\r\n")
	if len(trimmed) > 64 {
		trimmed = trimmed[:64]
	}
	lower := bytes.ToLower(trimmed)
	return bytes.HasPrefix(lower, []byte("<!doctype html")) || bytes.HasPrefix(lower, []byte("<html"))
}

func fromContentType(contentType string) (core.Format, bool) {
	if contentType == "" {
		return "", false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	kind, ok := contentTypes[mediaType]
	return kind, ok
}

func fromExtension(filename string) (core.Format, bool) {
	if filename == "" {
		return "", false
	}
	kind, ok := extensions[strings.ToLower(filepath.Ext(filename))]
	return kind, ok
}
