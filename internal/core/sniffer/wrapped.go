package sniffer

import (
	"bytes"
	"encoding/base64"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxReferenceBody   = 2048
	minURLShare        = 0.6
	maxResidualLetters = 40
)

var (
	urlRe      = regexp.MustCompile(`(?i)https?://[^\s"'<>]+`)
	dataURIRe  = regexp.MustCompile(`^data:[^,]*;base64,`)
	armorBegin = []byte("-----BEGIN ")
	armorEnd   = []byte("-----END ")
)

// decodeWrapped unwraps payloads that are literally base64 text: a
// "base64;" prefix, a data URI, or an ASCII-armored block.
func decodeWrapped(data []byte) ([]byte, bool) {
	trimmed := bytes.TrimSpace(data)

	switch {
	case bytes.HasPrefix(trimmed, []byte("base64;")):
		return decodeBase64(trimmed[len("base64;"):])
	case bytes.HasPrefix(trimmed, []byte("data:")):
		loc := dataURIRe.FindIndex(trimmed)
		if loc == nil {
			return nil, false
		}
		return decodeBase64(trimmed[loc[1]:])
	case bytes.HasPrefix(trimmed, armorBegin):
		return decodeArmor(trimmed)
	}
	return nil, false
}

// decodeArmor drops the BEGIN/END lines and any "Key: value" headers.
func decodeArmor(data []byte) ([]byte, bool) {
	lines := bytes.Split(data, []byte("\n"))
	var body bytes.Buffer
	inBody := false
	for _, raw := range lines[1:] {
		line := bytes.TrimSpace(raw)
		if bytes.HasPrefix(line, armorEnd) {
			break
		}
		if !inBody {
			if len(line) == 0 || bytes.Contains(line, []byte(": ")) {
				continue
			}
			inBody = true
		}
		body.Write(line)
	}
	if body.Len() == 0 {
		return nil, false
	}
	return decodeBase64(body.Bytes())
}

func decodeBase64(payload []byte) ([]byte, bool) {
	clean := bytes.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, payload)
	if len(clean) == 0 {
		return nil, false
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		out, err := enc.DecodeString(string(clean))
		if err == nil && len(out) > 0 {
			return out, true
		}
	}
	return nil, false
}

// externalReference detects short text bodies that are little more than a
// link to an attachment hosted elsewhere (fax relays, EMR redirects).
func externalReference(data []byte) (string, bool) {
	if len(data) == 0 || len(data) > maxReferenceBody || !looksLikeText(data) {
		return "", false
	}

	text := string(data)
	urls := urlRe.FindAllString(text, -1)
	if len(urls) == 0 {
		return "", false
	}

	urlChars := 0
	for _, u := range urls {
		urlChars += len(u)
	}
	residual := urlRe.ReplaceAllString(text, "")
	letters := 0
	nonSpace := urlChars
	for _, r := range residual {
		if unicode.IsSpace(r) {
			continue
		}
		nonSpace++
		if unicode.IsLetter(r) {
			letters++
		}
	}

	// Both conditions must hold: a terse note with a link keeps its text.
	share := float64(urlChars) / float64(nonSpace)
	if share < minURLShare || letters > maxResidualLetters {
		return "", false
	}
	return "payload is an external attachment reference (" + hostOf(urls[0]) + "), not a document", true
}

func hostOf(u string) string {
	rest := u[strings.Index(u, "://")+3:]
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// looksLikeText reports whether data is valid UTF-8 dominated by printable runes.
func looksLikeText(data []byte) bool {
	if len(data) == 0 || !utf8.Valid(data) {
		return false
	}
	printable, total := 0, 0
	for _, r := range string(data) {
		total++
		if r == 0 {
			return false
		}
		if unicode.IsPrint(r) || r == '\n' || r == '\r' || r == '\t' {
			printable++
		}
	}
	return printable*100 >= total*90
}
