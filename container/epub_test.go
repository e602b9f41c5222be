package container

import (
	"archive/zip"
	"io"
	"os"
	"strings"
	"testing"
)

func buildTestEPUB(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp("", "golibri-src-*.epub")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	path := f.Name()
	t.Cleanup(func() { os.Remove(path) })

	zw := zip.NewWriter(f)

	m, _ := zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	m.Write([]byte(EPUBMimetype))

	c, _ := zw.Create(containerXMLName)
	c.Write([]byte(`<?xml version="1.0"?><container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container"><rootfiles><rootfile full-path="content.opf" media-type="application/oebps-package+xml"/></rootfiles></container>`))

	o, _ := zw.Create("content.opf")
	o.Write([]byte(testOPF))

	ch, _ := zw.Create("text/chapter1.xhtml")
	ch.Write([]byte(testChapter))

	cs, _ := zw.Create("styles/style.css")
	cs.Write([]byte("body { color: black; }"))

	nc, _ := zw.Create("toc.ncx")
	nc.Write([]byte(testNCX))

	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip writer: %v", err)
	}
	f.Close()
	return path
}

func TestOpenEPUBExtractsAndParsesOPF(t *testing.T) {
	path := buildTestEPUB(t)
	e, err := OpenEPUB(path, Options{})
	if err != nil {
		t.Fatalf("OpenEPUB: %v", err)
	}
	defer os.RemoveAll(e.Root())

	if e.OPFName() != "content.opf" {
		t.Errorf("OPFName = %q, want content.opf", e.OPFName())
	}
	if !e.Has("text/chapter1.xhtml") {
		t.Error("expected chapter to be tracked")
	}
	if e.Has("mimetype") {
		t.Error("mimetype should not be tracked as a resource")
	}
}

func TestEPUBCommitRoundTripsMimetypeFirst(t *testing.T) {
	path := buildTestEPUB(t)
	e, err := OpenEPUB(path, Options{})
	if err != nil {
		t.Fatalf("OpenEPUB: %v", err)
	}
	defer os.RemoveAll(e.Root())

	a, err := e.Parsed(e.OPFName())
	if err != nil {
		t.Fatalf("Parsed: %v", err)
	}
	for _, title := range a.XML.FindElements("//dc:title") {
		title.SetText("New Title")
	}
	e.Replace(e.OPFName(), a)

	outF, _ := os.CreateTemp("", "golibri-out-*.epub")
	outPath := outF.Name()
	outF.Close()
	defer os.Remove(outPath)

	if err := e.Commit(outPath, false); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	zr, err := zip.OpenReader(outPath)
	if err != nil {
		t.Fatalf("opening committed zip: %v", err)
	}
	defer zr.Close()

	if zr.File[0].Name != "mimetype" {
		t.Errorf("first entry = %q, want mimetype", zr.File[0].Name)
	}
	if zr.File[0].Method != zip.Store {
		t.Errorf("mimetype method = %d, want Store", zr.File[0].Method)
	}

	foundOPF := false
	for _, f := range zr.File {
		if f.Name != "content.opf" {
			continue
		}
		foundOPF = true
		rc, _ := f.Open()
		b, _ := io.ReadAll(rc)
		rc.Close()
		if !strings.Contains(string(b), "New Title") {
			t.Errorf("committed OPF missing edit: %s", b)
		}
	}
	if !foundOPF {
		t.Error("content.opf missing from committed zip")
	}
}

// TestOpenEPUBFallsBackToForgivingParserOnDamagedCentralDirectory truncates a
// well-formed EPUB right before its central directory, so archive/zip can no
// longer locate an end-of-central-directory record, and checks that OpenEPUB
// still recovers the entries from their local file headers.
func TestOpenEPUBFallsBackToForgivingParserOnDamagedCentralDirectory(t *testing.T) {
	path := buildTestEPUB(t)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	centralDirSig := []byte{0x50, 0x4b, 0x01, 0x02}
	idx := strings.Index(string(raw), string(centralDirSig))
	if idx < 0 {
		t.Fatal("central directory signature not found in fixture zip")
	}
	truncated := raw[:idx]

	damagedPath := path + ".damaged"
	if err := os.WriteFile(damagedPath, truncated, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	defer os.Remove(damagedPath)

	if _, err := zip.OpenReader(damagedPath); err == nil {
		t.Fatal("expected archive/zip to reject the truncated archive")
	}

	e, err := OpenEPUB(damagedPath, Options{})
	if err != nil {
		t.Fatalf("OpenEPUB with forgiving fallback: %v", err)
	}
	defer os.RemoveAll(e.Root())

	if !e.Has("text/chapter1.xhtml") {
		t.Error("expected chapter recovered via forgiving parser")
	}
	if !e.Has("styles/style.css") {
		t.Error("expected stylesheet recovered via forgiving parser")
	}
	if e.OPFName() != "content.opf" {
		t.Errorf("OPFName = %q, want content.opf", e.OPFName())
	}
}

func TestEPUBAddFileIsReflectedInCommit(t *testing.T) {
	path := buildTestEPUB(t)
	e, err := OpenEPUB(path, Options{})
	if err != nil {
		t.Fatalf("OpenEPUB: %v", err)
	}
	defer os.RemoveAll(e.Root())

	if err := e.AddFile("text/chapter2.xhtml", []byte("<html><body>two</body></html>"), ""); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	outF, _ := os.CreateTemp("", "golibri-out2-*.epub")
	outPath := outF.Name()
	outF.Close()
	defer os.Remove(outPath)

	if err := e.Commit(outPath, false); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	zr, err := zip.OpenReader(outPath)
	if err != nil {
		t.Fatalf("opening committed zip: %v", err)
	}
	defer zr.Close()

	found := false
	for _, f := range zr.File {
		if f.Name == "text/chapter2.xhtml" {
			found = true
		}
	}
	if !found {
		t.Error("newly added file missing from committed zip")
	}
}

func TestEPUBRemoveItemIsReflectedInCommit(t *testing.T) {
	path := buildTestEPUB(t)
	e, err := OpenEPUB(path, Options{})
	if err != nil {
		t.Fatalf("OpenEPUB: %v", err)
	}
	defer os.RemoveAll(e.Root())

	if err := e.RemoveItem("text/chapter1.xhtml", true); err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}

	outF, _ := os.CreateTemp("", "golibri-out3-*.epub")
	outPath := outF.Name()
	outF.Close()
	defer os.Remove(outPath)

	if err := e.Commit(outPath, false); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	zr, err := zip.OpenReader(outPath)
	if err != nil {
		t.Fatalf("opening committed zip: %v", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name == "text/chapter1.xhtml" {
			t.Error("removed file should not reappear in committed zip")
		}
	}
}
