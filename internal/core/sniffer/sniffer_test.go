package sniffer

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/clindoc/internal/core"
)

var (
	pdfBytes  = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	jpegBytes = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'}
	pngBytes  = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00}
	bmpBytes  = []byte{'B', 'M', 0x3A, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x36, 0x00, 0x00, 0x00}
)

func TestSniffMagicBeatsDeclaredType(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		ctype    string
		filename string
		want     core.Format
	}{
		{"pdf declared text", pdfBytes, "text/plain", "note.txt", core.FormatPDF},
		{"pdf after junk prefix", append([]byte("\r\n\x00junk"), pdfBytes...), "", "", core.FormatPDF},
		{"jpeg declared pdf", jpegBytes, "application/pdf", "scan.pdf", core.FormatJPEG},
		{"png declared html", pngBytes, "text/html", "page.html", core.FormatPNG},
		{"tiff little endian", []byte{'I', 'I', '*', 0x00, 0x08}, "text/plain", "", core.FormatTIFF},
		{"tiff big endian", []byte{'M', 'M', 0x00, '*', 0x00}, "", "x.docx", core.FormatTIFF},
		{"bmp", bmpBytes, "application/octet-stream", "", core.FormatBMP},
		{"html doctype mixed case", []byte("  <!DocType HTML><html><body>hi</body></html>"), "text/plain", "", core.FormatHTML},
		{"html tag", []byte("<HTML><p>Discharge summary</p></HTML>"), "application/pdf", "", core.FormatHTML},
		{"ole legacy word", []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1, 0x00}, "text/plain", "", core.FormatDOC},
		{"docx archive", []byte("PK\x03\x04....[Content_Types].xml....word/document.xml"), "text/plain", "", core.FormatDOCX},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sniff(tt.data, tt.ctype, tt.filename)
			assert.Equal(t, tt.want, got.Kind)
			assert.Equal(t, 1.0, got.Confidence)
		})
	}
}

func TestSniffFallbackOrder(t *testing.T) {
	binary := []byte{0x01, 0x02, 0x03, 0x00, 0xFE}

	got := Sniff(binary, "image/png; charset=binary", "scan.pdf")
	assert.Equal(t, core.FormatPNG, got.Kind, "declared content type wins over extension")

	got = Sniff(binary, "", "SCAN.TIFF")
	assert.Equal(t, core.FormatTIFF, got.Kind)

	got = Sniff(binary, "application/octet-stream", "blob.bin")
	assert.Equal(t, core.FormatUnknown, got.Kind)
	assert.NotEmpty(t, got.Reason)
}

func TestSniffUndeclaredTextIsPlainText(t *testing.T) {
	got := Sniff([]byte("Patient seen for follow up. BP 120/80."), "", "")
	assert.Equal(t, core.FormatText, got.Kind)
	assert.Less(t, got.Confidence, 1.0)
}

func TestSniffTextWithBMPrefixIsNotBitmap(t *testing.T) {
	got := Sniff([]byte("BMI 31.2 recorded at intake, counselled on diet."), "text/plain", "")
	assert.Equal(t, core.FormatText, got.Kind)
}

func TestSniffDecodesBase64Payloads(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString(pdfBytes)

	tests := []struct {
		name string
		data string
	}{
		{"prefix", "base64;" + encoded},
		{"data uri", "data:application/pdf;base64," + encoded},
		{"armored", "-----BEGIN DOCUMENT-----\nVersion: 1\n\n" + encoded[:20] + "\n" + encoded[20:] + "\n-----END DOCUMENT-----\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sniff([]byte(tt.data), "text/plain", "attachment.txt")
			require.Equal(t, core.FormatPDF, got.Kind)
			assert.Equal(t, pdfBytes, got.Payload)
		})
	}
}

func TestSniffRejectsExternalAttachmentReference(t *testing.T) {
	body := "https://fax.example-relay.com/attachments/download?id=88213&token=ab34cd"

	got := Sniff([]byte(body), "text/plain", "fax.txt")
	assert.Equal(t, core.FormatUnknown, got.Kind)
	assert.Contains(t, got.Reason, "fax.example-relay.com")
}

func TestSniffKeepsTextThatMerelyContainsALink(t *testing.T) {
	body := "Assessment: type 2 diabetes, well controlled on metformin. Plan: repeat HbA1c in three months, " +
		"patient education handout at https://example.org/diabetes provided."

	got := Sniff([]byte(body), "text/plain", "")
	assert.Equal(t, core.FormatText, got.Kind)
}

func TestSniffKeepsTerseNoteWithLink(t *testing.T) {
	body := "K 4.1 normal, Na 139 normal. Report: https://lab.example.org/r/88"

	got := Sniff([]byte(body), "text/plain", "")
	assert.Equal(t, core.FormatText, got.Kind)
}

func TestSniffRejectsShortCoverLineWithLink(t *testing.T) {
	body := "Your fax is ready: https://fax.example-relay.com/attachments/download?id=88213&token=ab34cd"

	got := Sniff([]byte(body), "text/plain", "")
	assert.Equal(t, core.FormatUnknown, got.Kind)
}

func TestMagicFormatUnknown(t *testing.T) {
	_, ok := MagicFormat([]byte("just words"))
	assert.False(t, ok)
}
