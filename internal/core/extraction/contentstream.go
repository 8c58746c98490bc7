package extraction

import (
	"encoding/hex"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// tjGap is the TJ adjustment, in thousandths of an em, that reads as a word gap.
const tjGap = -200

// textFromContentStream pulls the strings shown by text operators out of a
// decoded page content stream. It does not resolve font encodings, so it is
// good enough to judge whether a page has a usable text layer.
func textFromContentStream(data []byte) string {
	var (
		b        strings.Builder
		operands []string
		inArray  bool
		array    []string
	)

	newline := func() {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
	}

	for i := 0; i < len(data); {
		c := data[i]
		switch {
		case c == '%':
			for i < len(data) && data[i] != '\n' && data[i] != '\r' {
				i++
			}
		case c == '(':
			s, next := readLiteral(data, i)
			if inArray {
				array = append(array, s)
			} else {
				operands = append(operands, s)
			}
			i = next
		case c == '<' && i+1 < len(data) && data[i+1] == '<':
			i = skipDict(data, i)
		case c == '<':
			s, next := readHex(data, i)
			if inArray {
				array = append(array, s)
			} else {
				operands = append(operands, s)
			}
			i = next
		case c == '[':
			inArray, array = true, array[:0]
			i++
		case c == ']':
			inArray = false
			i++
		case isDelimiterOrSpace(c):
			i++
		default:
			start := i
			for i < len(data) && !isDelimiterOrSpace(data[i]) && data[i] != '(' && data[i] != '<' && data[i] != '[' && data[i] != ']' {
				i++
			}
			tok := string(data[start:i])
			if inArray {
				if n, ok := parseNumber(tok); ok && n <= tjGap {
					array = append(array, " ")
				}
				continue
			}
			switch tok {
			case "Tj":
				b.WriteString(strings.Join(operands, ""))
			case "'", "\"":
				newline()
				b.WriteString(strings.Join(operands, ""))
			case "TJ":
				b.WriteString(strings.Join(array, ""))
				array = array[:0]
			case "Td", "TD", "T*":
				newline()
			case "ET":
				newline()
			}
			if isOperator(tok) {
				operands = operands[:0]
			}
		}
	}
	return cleanExtracted(b.String())
}

// readLiteral decodes a literal string. Bytes are read as WinAnsi, the
// default encoding of simple fonts, so the result is always valid UTF-8.
func readLiteral(data []byte, i int) (string, int) {
	var raw []byte
	depth := 0
	for i < len(data) {
		c := data[i]
		switch {
		case c == '\\' && i+1 < len(data):
			i++
			switch e := data[i]; e {
			case 'n':
				raw = append(raw, '\n')
			case 'r', 't', 'b', 'f':
				raw = append(raw, ' ')
			case '\r', '\n':
			default:
				if e >= '0' && e <= '7' {
					v := 0
					for k := 0; k < 3 && i < len(data) && data[i] >= '0' && data[i] <= '7'; k++ {
						v = v*8 + int(data[i]-'0')
						i++
					}
					raw = append(raw, byte(v))
					continue
				}
				raw = append(raw, e)
			}
		case c == '(':
			if depth > 0 {
				raw = append(raw, c)
			}
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return winAnsi(raw), i + 1
			}
			raw = append(raw, c)
		default:
			raw = append(raw, c)
		}
		i++
	}
	return winAnsi(raw), i
}

func winAnsi(raw []byte) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, c := range raw {
		if c < utf8.RuneSelf {
			b.WriteByte(c)
			continue
		}
		b.WriteRune(charmap.Windows1252.DecodeByte(c))
	}
	return b.String()
}

func readHex(data []byte, i int) (string, int) {
	end := i + 1
	for end < len(data) && data[end] != '>' {
		end++
	}
	digits := make([]byte, 0, end-i)
	for _, c := range data[i+1 : end] {
		if !unicode.IsSpace(rune(c)) {
			digits = append(digits, c)
		}
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	raw, err := hex.DecodeString(string(digits))
	if err != nil {
		return "", end + 1
	}
	// Two-byte glyph ids are common in hex strings; keep only bytes that
	// decode as printable ASCII.
	var b strings.Builder
	for _, c := range raw {
		if c >= 0x20 && c < 0x7F {
			b.WriteByte(c)
		}
	}
	return b.String(), end + 1
}

func skipDict(data []byte, i int) int {
	depth := 0
	for i+1 < len(data) {
		switch {
		case data[i] == '<' && data[i+1] == '<':
			depth++
			i += 2
		case data[i] == '>' && data[i+1] == '>':
			depth--
			i += 2
			if depth == 0 {
				return i
			}
		default:
			i++
		}
	}
	return len(data)
}

func isDelimiterOrSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', 0, '/', '{', '}', '>':
		return true
	}
	return false
}

func isOperator(tok string) bool {
	if tok == "" {
		return false
	}
	_, num := parseNumber(tok)
	return !num && tok != "true" && tok != "false" && tok != "null"
}

func parseNumber(tok string) (float64, bool) {
	if tok == "" {
		return 0, false
	}
	var (
		v      float64
		frac   float64
		neg    bool
		digits bool
		inFrac bool
	)
	for k, c := range tok {
		switch {
		case k == 0 && (c == '-' || c == '+'):
			neg = c == '-'
		case c == '.' && !inFrac:
			inFrac, frac = true, 0.1
		case c >= '0' && c <= '9':
			digits = true
			if inFrac {
				v += float64(c-'0') * frac
				frac /= 10
			} else {
				v = v*10 + float64(c-'0')
			}
		default:
			return 0, false
		}
	}
	if neg {
		v = -v
	}
	return v, digits
}

// cleanExtracted collapses horizontal whitespace and drops control bytes
// while keeping line structure.
func cleanExtracted(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.Join(strings.FieldsFunc(l, func(r rune) bool {
			return unicode.IsSpace(r) || !unicode.IsPrint(r)
		}), " ")
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
