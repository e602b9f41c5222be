package container

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// DecodeText decodes text data of unknown encoding: sniff a BOM (UTF-32,
// then UTF-16, then UTF-8) and consume it; else try UTF-8 outright; else
// fall back to an XML-declaration / heuristic sniff. Newlines are always
// normalized to "\n" afterward, and the function is idempotent on its own
// output.
//
// The returned encoding label is recorded by callers into encoding_map.
func DecodeText(data []byte) (text string, encodingUsed string) {
	switch {
	case hasUTF32BOM(data, true):
		return normalizeNewlines(decodeUTF32(data[4:], true)), "utf-32be"
	case hasUTF32BOM(data, false):
		return normalizeNewlines(decodeUTF32(data[4:], false)), "utf-32le"
	case hasUTF16BOM(data, true):
		return normalizeNewlines(decodeUTF16(data[2:], true)), "utf-16be"
	case hasUTF16BOM(data, false):
		return normalizeNewlines(decodeUTF16(data[2:], false)), "utf-16le"
	case bytes.HasPrefix(data, utf8BOM):
		return normalizeNewlines(string(data[3:])), "utf-8-sig"
	}

	if utf8.Valid(data) {
		return normalizeNewlines(string(data)), "utf-8"
	}

	if enc, ok := sniffFromXMLDecl(data); ok {
		return normalizeNewlines(decodeLatin1ish(data, enc)), enc
	}

	enc := sniffHeuristic(data)
	return normalizeNewlines(decodeLatin1ish(data, enc)), enc
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// hasUTF32BOM checks for the 4-byte UTF-32 BOM of the requested endianness.
// Must be checked before the UTF-16 BOM, since a little-endian UTF-32 BOM
// (0xFF 0xFE 0x00 0x00) begins with the UTF-16LE BOM (0xFF 0xFE); a
// big-endian UTF-32 BOM's first two bytes (0x00 0x00) are not a UTF-16 BOM.
func hasUTF32BOM(data []byte, bigEndian bool) bool {
	if len(data) < 4 {
		return false
	}
	if bigEndian {
		return data[0] == 0x00 && data[1] == 0x00 && data[2] == 0xFE && data[3] == 0xFF
	}
	return data[0] == 0xFF && data[1] == 0xFE && data[2] == 0x00 && data[3] == 0x00
}

func hasUTF16BOM(data []byte, bigEndian bool) bool {
	if len(data) < 2 {
		return false
	}
	if hasUTF32BOM(data, false) {
		return false // the 0xFF 0xFE prefix of a LE UTF-32 BOM is not UTF-16
	}
	if bigEndian {
		return data[0] == 0xFE && data[1] == 0xFF
	}
	return data[0] == 0xFF && data[1] == 0xFE
}

func decodeUTF16(data []byte, bigEndian bool) string {
	n := len(data) / 2
	units := make([]uint16, n)
	for i := 0; i < n; i++ {
		if bigEndian {
			units[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
		} else {
			units[i] = uint16(data[2*i+1])<<8 | uint16(data[2*i])
		}
	}
	return string(utf16.Decode(units))
}

func decodeUTF32(data []byte, bigEndian bool) string {
	n := len(data) / 4
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		var r rune
		if bigEndian {
			r = rune(uint32(data[4*i])<<24 | uint32(data[4*i+1])<<16 | uint32(data[4*i+2])<<8 | uint32(data[4*i+3]))
		} else {
			r = rune(uint32(data[4*i+3])<<24 | uint32(data[4*i+2])<<16 | uint32(data[4*i+1])<<8 | uint32(data[4*i]))
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

var xmlDeclEncodingRe = regexp.MustCompile(`(?i)<\?xml[^>]*\bencoding\s*=\s*["']([^"']+)["']`)

// sniffFromXMLDecl inspects a leading <?xml ... encoding="..."?> declaration.
func sniffFromXMLDecl(data []byte) (string, bool) {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	m := xmlDeclEncodingRe.FindSubmatch(head)
	if m == nil {
		return "", false
	}
	return strings.ToLower(string(m[1])), true
}

// sniffHeuristic is the chardet-style fallback for unlabeled legacy EPUBs:
// without a real statistical detector in the dependency graph, it assumes
// Windows-1252 (a superset of Latin-1), which covers the large majority of
// pre-2008 OEB content that isn't UTF-8.
func sniffHeuristic(data []byte) string {
	_ = data
	return "windows-1252"
}

// decodeLatin1ish expands a single-byte encoding (Latin-1/Windows-1252
// family) to UTF-8. Both of the two non-UTF encodings this core accepts
// without a transcoding library are single-byte, so one routine suffices;
// anything else reaching here is treated as already-decodable bytes.
func decodeLatin1ish(data []byte, enc string) string {
	switch enc {
	case "iso-8859-1", "latin1", "windows-1252", "cp1252":
		// Windows-1252 differs from Latin-1 only in 0x80-0x9F.
		cp1252 := enc == "windows-1252" || enc == "cp1252"
		c1 := [32]rune{
			0x20AC, 0x0081, 0x201A, 0x0192, 0x201E, 0x2026, 0x2020, 0x2021,
			0x02C6, 0x2030, 0x0160, 0x2039, 0x0152, 0x008D, 0x017D, 0x008F,
			0x0090, 0x2018, 0x2019, 0x201C, 0x201D, 0x2022, 0x2013, 0x2014,
			0x02DC, 0x2122, 0x0161, 0x203A, 0x0153, 0x009D, 0x017E, 0x0178,
		}
		var sb strings.Builder
		sb.Grow(len(data))
		for _, b := range data {
			if cp1252 && b >= 0x80 && b < 0xA0 {
				sb.WriteRune(c1[b-0x80])
				continue
			}
			sb.WriteRune(rune(b))
		}
		return sb.String()
	default:
		return string(data)
	}
}

var crlfRe = regexp.MustCompile(`\r\n|\r`)

// normalizeNewlines collapses "\r\n" and lone "\r" to "\n", applied
// regardless of which decoding branch produced the text.
func normalizeNewlines(s string) string {
	return crlfRe.ReplaceAllString(s, "\n")
}
