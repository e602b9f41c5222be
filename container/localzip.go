package container

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	localFileHeaderSig = 0x04034b50
	dataDescriptorSig  = 0x08074b50
)

// extractZipForgiving streams a ZIP archive by walking its local file
// headers directly, never consulting the central directory or end-of-central-
// directory record. archive/zip refuses any file whose central directory is
// missing, truncated, or disagrees with the local headers; this scan
// recovers what it can from the local headers alone.
//
// Grounded on the fallback original_source's EpubContainer takes when
// ZipFile(stream) raises on open: it switches to
// calibre.utils.localunzip.extractall, which performs exactly this kind of
// local-header-only walk instead of giving up.
func extractZipForgiving(path, workDir string) (order []string, method map[string]uint16, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	method = make(map[string]uint16)
	pos := 0
	for pos+30 <= len(data) {
		if binary.LittleEndian.Uint32(data[pos:pos+4]) != localFileHeaderSig {
			// Whatever follows (central directory, EOCD, padding) isn't
			// another entry; nothing more to recover.
			break
		}
		flags := binary.LittleEndian.Uint16(data[pos+6 : pos+8])
		methodID := binary.LittleEndian.Uint16(data[pos+8 : pos+10])
		compSize := int(binary.LittleEndian.Uint32(data[pos+18 : pos+22]))
		nameLen := int(binary.LittleEndian.Uint16(data[pos+26 : pos+28]))
		extraLen := int(binary.LittleEndian.Uint16(data[pos+28 : pos+30]))

		nameStart := pos + 30
		nameEnd := nameStart + nameLen
		if nameEnd > len(data) {
			break
		}
		name := string(data[nameStart:nameEnd])
		dataStart := nameEnd + extraLen
		if dataStart > len(data) {
			break
		}

		var entryData []byte
		var consumed int
		if flags&0x0008 != 0 {
			// Streamed entry: sizes live in a trailing data descriptor
			// instead of the local header. Recover the boundary by locating
			// the next local file header (or the archive's end).
			end := findNextLocalHeader(data, dataStart)
			entryData = trimDataDescriptor(data[dataStart:end])
			consumed = end - dataStart
		} else {
			end := dataStart + compSize
			if end > len(data) {
				end = len(data)
			}
			entryData = data[dataStart:end]
			consumed = end - dataStart
		}
		pos = dataStart + consumed

		if name == "" || strings.HasSuffix(name, "/") || name == "mimetype" {
			continue
		}

		raw, derr := inflateEntry(entryData, methodID)
		if derr != nil {
			return nil, nil, fmt.Errorf("decoding %q: %w", name, derr)
		}
		dst := NameToAbspath(workDir, name)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, nil, err
		}
		if err := os.WriteFile(dst, raw, 0o644); err != nil {
			return nil, nil, err
		}
		order = append(order, name)
		method[name] = methodID
	}

	if len(order) == 0 {
		return nil, nil, fmt.Errorf("no local file headers recovered")
	}
	return order, method, nil
}

func findNextLocalHeader(data []byte, from int) int {
	sig := []byte{0x50, 0x4b, 0x03, 0x04}
	if idx := bytes.Index(data[from:], sig); idx >= 0 {
		return from + idx
	}
	return len(data)
}

// trimDataDescriptor strips a trailing data descriptor record (with or
// without its optional signature) from a streamed entry's captured bytes.
func trimDataDescriptor(b []byte) []byte {
	if len(b) >= 16 && binary.LittleEndian.Uint32(b[len(b)-16:len(b)-12]) == dataDescriptorSig {
		return b[:len(b)-16]
	}
	if len(b) >= 12 {
		return b[:len(b)-12]
	}
	return b
}

func inflateEntry(data []byte, methodID uint16) ([]byte, error) {
	switch methodID {
	case 0:
		return data, nil
	case 8:
		r := flate.NewReader(bytes.NewReader(data))
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("unsupported compression method %d", methodID)
	}
}
