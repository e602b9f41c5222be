package container

import (
	"encoding/binary"
	"os"
)

// KF8Worker is the external collaborator boundary for the KF8/MOBI binding:
// a separate process that explodes a KF8 binary into an OPF + resource tree,
// and re-packages an edited tree back into an AZW3. The core only calls
// these two operations; it never parses KF8/MOBI record payloads itself.
type KF8Worker interface {
	// Explode extracts srcPath's KF8 content into destDir, returning the
	// Name of the generated OPF and the Names of any fonts the upstream
	// exploder already flagged as obfuscated.
	Explode(srcPath, destDir string) (opfName string, obfuscatedFonts []string, err error)
	// Repack converts the working OPF tree at opfPath back into an AZW3
	// written to outPath.
	Repack(opfPath, outPath string) error
}

// KF8 is the KF8/MOBI binding. Renames are never allowed on any name: the
// re-packager re-derives book structure from the working tree's layout at
// commit, so a rename would be silently lost.
type KF8 struct {
	*Container
	worker  KF8Worker
	srcPath string
}

// OpenKF8 sniffs and validates the MOBI header at path, then delegates
// extraction to worker. It rejects Topaz files, unparseable headers,
// DRM-protected books (non-zero encryption type), KF8-less MOBI6 books, and
// joint MOBI6+KF8 books, none of which this binding can edit.
func OpenKF8(path string, worker KF8Worker, opts Options) (*KF8, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ioErrorWrap("reading "+path, err)
	}

	if err := validateMobiHeader(data); err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp("", "golibri-kf8-*")
	if err != nil {
		return nil, ioErrorWrap("creating working directory", err)
	}

	opfName, obfFonts, err := worker.Explode(path, workDir)
	if err != nil {
		os.RemoveAll(workDir)
		return nil, invalidBookf("KF8 exploder failed: %v", err)
	}

	base, err := NewContainer(workDir, opfName, opts)
	if err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}

	k := &KF8{Container: base, worker: worker, srcPath: path}
	for _, name := range base.Names() {
		k.mustNotBeChanged[name] = struct{}{}
	}
	_ = obfFonts // upstream-flagged obfuscated fonts are already cleared by the exploder

	k.log.Debug("kf8 opened", "path", path, "opf", opfName, "files", len(base.Names()))
	return k, nil
}

// Rename always fails: every name in a KF8 binding is protected.
func (k *KF8) Rename(current, newName string) error {
	return preconditionf("name %q must not be changed in a KF8 container", current)
}

// Commit commits the base container, then invokes the external re-packager
// to pack the working OPF tree back into an AZW3 at outPath.
func (k *KF8) Commit(outPath string, keepParsed bool) error {
	if err := k.Container.Commit(keepParsed); err != nil {
		return err
	}
	if err := k.worker.Repack(k.abspath(k.OPFName()), outPath); err != nil {
		return invalidBookf("KF8 re-packager failed: %v", err)
	}
	return nil
}

const (
	pdbNumRecordsOffset  = 76
	pdbRecordInfoOffset  = 78
	mobiIdentifierOffset = 16 // within record 0
	mobiFileVersionOffset = 36 // within the MOBI header, i.e. +16 absolute
	mobiEXTHFlagsOffset  = 128 // within the MOBI header, i.e. +16 absolute
	palmDocEncryptionOffset = 12 // within record 0
	exthKF8BoundaryType  = 121
)

// validateMobiHeader implements the sniff-and-reject rules the core applies
// before ever delegating to the exploder.
func validateMobiHeader(data []byte) error {
	if len(data) >= 3 && string(data[:3]) == "TPZ" {
		return invalidBookf("Topaz format is not a supported KF8/MOBI container")
	}
	if len(data) < pdbRecordInfoOffset+8 {
		return invalidBookf("file too short to be a MOBI container")
	}

	numRecords := int(binary.BigEndian.Uint16(data[pdbNumRecordsOffset:]))
	if numRecords < 1 {
		return invalidBookf("MOBI header reports no records")
	}

	record0Offset := int(binary.BigEndian.Uint32(data[pdbRecordInfoOffset:]))
	if record0Offset <= 0 || record0Offset+mobiFileVersionOffset+20 > len(data) {
		return invalidBookf("malformed MOBI record 0")
	}
	record0 := data[record0Offset:]

	if len(record0) < palmDocEncryptionOffset+2 {
		return invalidBookf("malformed PalmDOC header")
	}
	encryptionType := binary.BigEndian.Uint16(record0[palmDocEncryptionOffset:])
	if encryptionType != 0 {
		return drmf("MOBI header reports non-zero encryption type %d", encryptionType)
	}

	if len(record0) < mobiIdentifierOffset+4 || string(record0[mobiIdentifierOffset:mobiIdentifierOffset+4]) != "MOBI" {
		return invalidBookf("missing MOBI identifier in record 0")
	}

	fileVersionOffset := mobiIdentifierOffset + mobiFileVersionOffset
	if len(record0) < fileVersionOffset+4 {
		return invalidBookf("malformed MOBI header: truncated before file version")
	}
	fileVersion := binary.BigEndian.Uint32(record0[fileVersionOffset:])

	exthFlagsOffset := mobiIdentifierOffset + mobiEXTHFlagsOffset
	hasEXTH := false
	hasKF8Boundary := false
	if len(record0) >= exthFlagsOffset+4 {
		exthFlags := binary.BigEndian.Uint32(record0[exthFlagsOffset:])
		hasEXTH = exthFlags&0x40 != 0
	}
	if hasEXTH {
		hasKF8Boundary = hasEXTHRecord(record0[exthFlagsOffset+4:], exthKF8BoundaryType)
	}

	switch {
	case fileVersion >= 8:
		return nil // pure KF8: the common, supported case
	case hasKF8Boundary:
		return invalidBookf("joint MOBI6+KF8 files are not supported")
	default:
		return invalidBookf("no KF8 section present")
	}
}

// hasEXTHRecord scans an EXTH header (starting at its "EXTH" identifier) for
// a record of the given type.
func hasEXTHRecord(data []byte, recordType uint32) bool {
	if len(data) < 12 || string(data[:4]) != "EXTH" {
		return false
	}
	count := binary.BigEndian.Uint32(data[8:12])
	pos := 12
	for i := uint32(0); i < count && pos+8 <= len(data); i++ {
		typ := binary.BigEndian.Uint32(data[pos:])
		length := binary.BigEndian.Uint32(data[pos+4:])
		if typ == recordType {
			return true
		}
		if length < 8 {
			break
		}
		pos += int(length)
	}
	return false
}
