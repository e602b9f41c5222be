package container

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/beevik/etree"
)

const containerXMLName = "META-INF/container.xml"

// EPUB is the EPUB-ZIP binding: it extracts a ZIP into a working directory,
// wraps a Base Container over it, and knows how to repackage the tree back
// into a ZIP at commit time, mimetype first and uncompressed, the other
// entries rewritten from the working tree with their original compression
// method.
type EPUB struct {
	*Container

	obfuscated map[string]fontObfuscation

	// order preserves the original ZIP entry order (mimetype excluded,
	// since it is regenerated at commit, not a manipulable resource).
	order  []string
	method map[string]uint16
}

// OpenEPUB extracts path's ZIP contents into a fresh temporary working
// directory and constructs an EPUB container over it. If the archive doesn't
// parse as a well-formed ZIP (damaged central directory, for instance), it
// retries with a more forgiving local-file-header scan before giving up.
func OpenEPUB(path string, opts Options) (*EPUB, error) {
	workDir, err := os.MkdirTemp("", "golibri-epub-*")
	if err != nil {
		return nil, ioErrorWrap("creating working directory", err)
	}

	e := &EPUB{obfuscated: make(map[string]fontObfuscation), method: make(map[string]uint16)}

	if err := e.extractZip(path, workDir); err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}

	opfName, err := readContainerXML(workDir)
	if err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}

	base, err := NewContainer(workDir, opfName, opts)
	if err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}
	e.Container = base
	e.applyProtectedNameSets()

	if err := e.seedContainerXMLCache(); err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}

	if e.Has("META-INF/encryption.xml") {
		if err := e.processObfuscation(); err != nil {
			os.RemoveAll(workDir)
			return nil, err
		}
	}

	e.log.Debug("epub opened", "path", path, "opf", opfName, "files", len(e.order))
	return e, nil
}

// extractZip populates e.order/e.method by extracting path's entries into
// workDir, preferring archive/zip and falling back to extractZipForgiving
// when the archive fails to open as well-formed ZIP.
func (e *EPUB) extractZip(path, workDir string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		order, method, ferr := extractZipForgiving(path, workDir)
		if ferr != nil {
			return invalidBookf("opening EPUB zip %q: %v (forgiving parser also failed: %v)", path, err, ferr)
		}
		e.order = order
		e.method = method
		return nil
	}
	defer zr.Close()

	for _, f := range zr.File {
		name := f.Name
		if strings.HasSuffix(name, "/") {
			continue // directory entry
		}
		if name == "mimetype" {
			continue // regenerated at commit, not a tracked resource
		}
		if err := extractZipEntry(f, workDir); err != nil {
			return invalidBookf("extracting %q: %v", name, err)
		}
		e.order = append(e.order, name)
		e.method[name] = f.Method
	}
	return nil
}

func extractZipEntry(f *zip.File, workDir string) error {
	dst := NameToAbspath(workDir, f.Name)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

func readContainerXML(workDir string) (string, error) {
	p := NameToAbspath(workDir, containerXMLName)
	data, err := os.ReadFile(p)
	if err != nil {
		return "", invalidBookf("missing %s", containerXMLName)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return "", invalidBookf("malformed %s: %v", containerXMLName, err)
	}

	var fallback string
	for _, rf := range doc.FindElements("//rootfiles/rootfile") {
		fullPath := rf.SelectAttrValue("full-path", "")
		if fullPath == "" {
			continue
		}
		if fallback == "" {
			fallback = fullPath
		}
		if rf.SelectAttrValue("media-type", "") == OPFMimetype {
			return fullPath, nil
		}
	}
	if fallback == "" {
		return "", invalidBookf("no rootfile in %s", containerXMLName)
	}
	return fallback, nil
}

func (e *EPUB) seedContainerXMLCache() error {
	data, err := e.readFile(containerXMLName)
	if err != nil {
		return err
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return invalidBookf("malformed %s: %v", containerXMLName, err)
	}
	e.cache.set(containerXMLName, &Artifact{Kind: ArtifactXML, XML: doc})
	return nil
}

func (e *EPUB) applyProtectedNameSets() {
	needNotBeManifested := []string{
		containerXMLName,
		"META-INF/manifest.xml",
		"META-INF/encryption.xml",
		"META-INF/metadata.xml",
		"META-INF/signatures.xml",
		"META-INF/rights.xml",
	}
	for _, n := range needNotBeManifested {
		e.needNotBeManifested[n] = struct{}{}
		e.mustNotBeChanged[n] = struct{}{}
	}
	e.mustNotBeRemoved[containerXMLName] = struct{}{}
}

// AddFile overrides Container.AddFile to keep the ZIP entry order list in
// sync with newly added resources.
func (e *EPUB) AddFile(name string, data []byte, mediaType string) error {
	if err := e.Container.AddFile(name, data, mediaType); err != nil {
		return err
	}
	e.order = append(e.order, name)
	return nil
}

// RemoveItem overrides Container.RemoveItem to drop name from the ZIP entry
// order list.
func (e *EPUB) RemoveItem(name string, removeFromGuide bool) error {
	if err := e.Container.RemoveItem(name, removeFromGuide); err != nil {
		return err
	}
	for i, n := range e.order {
		if n == name {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	delete(e.method, name)
	return nil
}

// Rename overrides Container.Rename: beyond the base rename, it updates
// META-INF/container.xml's rootfile full-path when the OPF itself was
// renamed, and rewrites the matching CipherReference URI in
// encryption.xml when an obfuscated font was renamed.
func (e *EPUB) Rename(current, newName string) error {
	opfRenamed := current == e.OPFName()
	obf, wasObfuscated := e.obfuscated[current]

	if err := e.Container.Rename(current, newName); err != nil {
		return err
	}
	for i, n := range e.order {
		if n == current {
			e.order[i] = newName
			break
		}
	}
	if m, ok := e.method[current]; ok {
		e.method[newName] = m
		delete(e.method, current)
	}

	if opfRenamed {
		if err := e.updateContainerXMLFullPath(newName); err != nil {
			return err
		}
	}
	if wasObfuscated {
		delete(e.obfuscated, current)
		e.obfuscated[newName] = obf
		if err := e.updateEncryptionURI(current, newName); err != nil {
			return err
		}
	}
	return nil
}

func (e *EPUB) updateContainerXMLFullPath(newOPFName string) error {
	a, err := e.Parsed(containerXMLName)
	if err != nil {
		return err
	}
	for _, rf := range a.XML.FindElements("//rootfiles/rootfile") {
		if rf.SelectAttrValue("media-type", "") == OPFMimetype {
			rf.RemoveAttr("full-path")
			rf.CreateAttr("full-path", newOPFName)
		}
	}
	e.dirtied.add(containerXMLName)
	return nil
}

func (e *EPUB) updateEncryptionURI(oldName, newName string) error {
	a, err := e.Parsed("META-INF/encryption.xml")
	if err != nil {
		return err
	}
	oldHref := NameToHref(oldName, "")
	newHref := NameToHref(newName, "")
	for _, cr := range a.XML.FindElements("//CipherReference") {
		if cr.SelectAttrValue("URI", "") == oldHref {
			cr.RemoveAttr("URI")
			cr.CreateAttr("URI", newHref)
		}
	}
	e.dirtied.add("META-INF/encryption.xml")
	return nil
}

// Clone hard-link-copies this EPUB's working tree to destDir and returns a
// new EPUB wrapping the copy, preserving ZIP entry order, per-entry
// compression method, and the obfuscated-font table.
func (e *EPUB) Clone(destDir string, opts Options) (*EPUB, error) {
	base, err := e.Container.Clone(destDir, opts)
	if err != nil {
		return nil, err
	}
	clone := &EPUB{
		Container:  base,
		obfuscated: make(map[string]fontObfuscation, len(e.obfuscated)),
		order:      append([]string(nil), e.order...),
		method:     make(map[string]uint16, len(e.method)),
	}
	for k, v := range e.obfuscated {
		clone.obfuscated[k] = v
	}
	for k, v := range e.method {
		clone.method[k] = v
	}
	return clone, nil
}

// Commit commits the base container, re-applies the obfuscation XOR to every
// obfuscated font (the same operation re-encrypts what open decrypted), then
// rebuilds the ZIP at outPath with mimetype written first and uncompressed.
func (e *EPUB) Commit(outPath string, keepParsed bool) error {
	if err := e.Container.Commit(keepParsed); err != nil {
		return err
	}
	for name, obf := range e.obfuscated {
		if err := e.xorFontInPlace(name, obf); err != nil {
			return err
		}
	}
	return e.rebuildZip(outPath)
}

func (e *EPUB) rebuildZip(outPath string) error {
	tmp, err := os.CreateTemp(filepath.Dir(outPath), "golibri-epub-*.epub")
	if err != nil {
		return ioErrorWrap("creating temp output", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		tmp.Close()
		if !success {
			os.Remove(tmpPath)
		}
	}()

	zw := zip.NewWriter(tmp)

	mimeHeader := &zip.FileHeader{Name: "mimetype", Method: zip.Store}
	mw, err := zw.CreateHeader(mimeHeader)
	if err != nil {
		return ioErrorWrap("writing mimetype entry", err)
	}
	if _, err := mw.Write([]byte(EPUBMimetype)); err != nil {
		return ioErrorWrap("writing mimetype content", err)
	}

	written := make(map[string]bool, len(e.order))
	for _, name := range e.order {
		if written[name] || !e.Has(name) {
			continue
		}
		written[name] = true
		method, ok := e.method[name]
		if !ok {
			method = zip.Deflate
		}
		if err := writeZipEntry(zw, e.abspath(name), name, method); err != nil {
			return ioErrorWrap(fmt.Sprintf("writing %q", name), err)
		}
	}
	for _, name := range e.Names() {
		if written[name] {
			continue
		}
		if err := writeZipEntry(zw, e.abspath(name), name, zip.Deflate); err != nil {
			return ioErrorWrap(fmt.Sprintf("writing %q", name), err)
		}
	}

	if err := zw.Close(); err != nil {
		return ioErrorWrap("closing zip writer", err)
	}
	tmp.Close()

	if err := os.Rename(tmpPath, outPath); err != nil {
		return ioErrorWrap("moving output into place", err)
	}
	success = true
	return nil
}

func writeZipEntry(zw *zip.Writer, srcPath, name string, method uint16) error {
	header := &zip.FileHeader{Name: name, Method: method}
	fw, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	f, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(fw, f)
	return err
}
