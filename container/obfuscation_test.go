package container

import (
	"archive/zip"
	"crypto/sha1"
	"io"
	"os"
	"testing"
)

const encryptionXMLIDPF = `<?xml version="1.0"?>
<encryption xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <EncryptedData xmlns="http://www.w3.org/2001/04/xmlenc#">
    <EncryptionMethod Algorithm="http://www.idpf.org/2008/embedding"/>
    <CipherData><CipherReference URI="fonts/book.ttf"/></CipherData>
  </EncryptedData>
</encryption>`

func buildObfuscatedEPUB(t *testing.T, plainFont []byte) (string, []byte) {
	t.Helper()

	key := sha1.Sum([]byte("test")) // lastColonSegment("urn:uuid:test") == "test"
	obfLen := idpfObfuscationLen
	if obfLen > len(plainFont) {
		obfLen = len(plainFont)
	}
	obfuscated := append([]byte(nil), plainFont...)
	xorBytes(obfuscated[:obfLen], key[:])

	f, err := os.CreateTemp("", "golibri-obf-*.epub")
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
	enc, _ := zw.Create("META-INF/encryption.xml")
	enc.Write([]byte(encryptionXMLIDPF))
	ft, _ := zw.Create("fonts/book.ttf")
	ft.Write(obfuscated)
	ch, _ := zw.Create("text/chapter1.xhtml")
	ch.Write([]byte(testChapter))
	cs, _ := zw.Create("styles/style.css")
	cs.Write([]byte("body {}"))
	nc, _ := zw.Create("toc.ncx")
	nc.Write([]byte(testNCX))
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	f.Close()
	return path, plainFont
}

func TestOpenEPUBDeobfuscatesFontOnOpen(t *testing.T) {
	plainFont := make([]byte, 2000)
	for i := range plainFont {
		plainFont[i] = byte(i % 251)
	}
	path, want := buildObfuscatedEPUB(t, plainFont)

	e, err := OpenEPUB(path, Options{})
	if err != nil {
		t.Fatalf("OpenEPUB: %v", err)
	}
	defer os.RemoveAll(e.Root())

	got, err := e.RawData("fonts/book.ttf", false)
	if err != nil {
		t.Fatalf("RawData: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("deobfuscated font length mismatch: got %d want %d", len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("deobfuscated font byte %d mismatch: got %d want %d", i, got[i], want[i])
		}
	}
	if _, tracked := e.obfuscated["fonts/book.ttf"]; !tracked {
		t.Error("expected font to be tracked in the obfuscated-font table")
	}
}

func TestEPUBCommitReobfuscatesFont(t *testing.T) {
	plainFont := make([]byte, 2000)
	for i := range plainFont {
		plainFont[i] = byte(i % 251)
	}
	path, _ := buildObfuscatedEPUB(t, plainFont)

	e, err := OpenEPUB(path, Options{})
	if err != nil {
		t.Fatalf("OpenEPUB: %v", err)
	}
	defer os.RemoveAll(e.Root())

	outF, _ := os.CreateTemp("", "golibri-obf-out-*.epub")
	outPath := outF.Name()
	outF.Close()
	defer os.Remove(outPath)

	if err := e.Commit(outPath, false); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	key := sha1.Sum([]byte("test"))
	zr, err := zip.OpenReader(outPath)
	if err != nil {
		t.Fatalf("opening committed zip: %v", err)
	}
	defer zr.Close()
	for _, f := range zr.File {
		if f.Name != "fonts/book.ttf" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("opening font entry: %v", err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("reading font entry: %v", err)
		}
		n := idpfObfuscationLen
		if n > len(data) {
			n = len(data)
		}
		xorBytes(data[:n], key[:])
		for i := 0; i < n; i++ {
			if data[i] != byte(i%251) {
				t.Fatalf("re-obfuscated font does not decode back to the original at byte %d", i)
			}
		}
	}
}
