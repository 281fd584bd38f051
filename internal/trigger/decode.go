package trigger

import (
	"regexp"
	"strings"
	"unicode/utf16"
)

var messageIDHeader = regexp.MustCompile(`^\[HM-MESSAGE-ID:([^\]]+)\]\r?\n`)

// decodeBody turns raw trigger-file bytes into clean text: BOM handling
// (UTF-16 LE payloads are transcoded, UTF-8 BOMs stripped), removal of NUL
// and C0 control bytes except tab/newline/CR, and replacement of invalid
// UTF-8 sequences.
func decodeBody(raw []byte) string {
	var s string
	switch {
	case len(raw) >= 2 && raw[0] == 0xFF && raw[1] == 0xFE:
		s = decodeUTF16LE(raw[2:])
	case len(raw) >= 3 && raw[0] == 0xEF && raw[1] == 0xBB && raw[2] == 0xBF:
		s = string(raw[3:])
	default:
		s = string(raw)
	}
	s = strings.ToValidUTF8(s, "�")
	return stripControl(s)
}

func decodeUTF16LE(b []byte) string {
	var units = make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		units = append(units, uint16(b[i])|uint16(b[i+1])<<8)
	}
	return string(utf16.Decode(units))
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		if r < 0x20 || r == 0x7F {
			return -1
		}
		return r
	}, s)
}

// splitMessageID strips the optional fallback-id header from the very
// start of the body, returning the id (or "") and the remainder.
func splitMessageID(body string) (string, string) {
	var m = messageIDHeader.FindStringSubmatch(body)
	if m == nil {
		return "", body
	}
	return m[1], body[len(m[0]):]
}
