package extraction

import (
	"bytes"
	"fmt"
)

const sanityWindow = 512

var binaryMarkers = []struct {
	name string
	sig  []byte
}{
	{"pdf header", []byte("%PDF")},
	{"jpeg header", []byte{0xFF, 0xD8, 0xFF}},
	{"png header", []byte{0x89, 'P', 'N', 'G'}},
	{"zip header", []byte{'P', 'K', 0x03, 0x04}},
	{"ole header", []byte{0xD0, 0xCF, 0x11, 0xE0}},
	{"pdf stream marker", []byte("endstream")},
	{"pdf object marker", []byte("endobj")},
	{"pdf dictionary", []byte("obj <<")},
	{"compression marker", []byte("/FlateDecode")},
	{"nul byte", []byte{0x00}},
}

// CheckBinary reports an error when the leading bytes of text look like an
// unconverted binary format rather than extracted prose.
func CheckBinary(text string) error {
	head := []byte(text)
	if len(head) > sanityWindow {
		head = head[:sanityWindow]
	}
	for _, m := range binaryMarkers {
		if bytes.Contains(head, m.sig) {
			return fmt.Errorf("extracted text contains %s", m.name)
		}
	}
	if bytes.HasPrefix(bytes.TrimSpace(head), []byte("stream")) {
		return fmt.Errorf("extracted text contains pdf stream marker")
	}
	return nil
}
