package container

import "testing"

func TestDecodeTextUTF8BOM(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("hello")...)
	text, enc := DecodeText(data)
	if text != "hello" {
		t.Errorf("got %q, want %q", text, "hello")
	}
	if enc != "utf-8-sig" {
		t.Errorf("got encoding %q, want utf-8-sig", enc)
	}
}

func TestDecodeTextUTF16LE(t *testing.T) {
	data := []byte{0xFF, 0xFE, 'h', 0, 'i', 0}
	text, enc := DecodeText(data)
	if text != "hi" {
		t.Errorf("got %q, want %q", text, "hi")
	}
	if enc != "utf-16le" {
		t.Errorf("got encoding %q, want utf-16le", enc)
	}
}

func TestDecodeTextUTF32LENotMisreadAsUTF16(t *testing.T) {
	data := []byte{0xFF, 0xFE, 0x00, 0x00, 'h', 0, 0, 0}
	_, enc := DecodeText(data)
	if enc != "utf-32le" {
		t.Errorf("got encoding %q, want utf-32le (UTF-32LE BOM prefix must win over UTF-16LE)", enc)
	}
}

func TestDecodeTextPlainUTF8(t *testing.T) {
	text, enc := DecodeText([]byte("plain ascii"))
	if text != "plain ascii" || enc != "utf-8" {
		t.Errorf("got (%q, %q)", text, enc)
	}
}

func TestDecodeTextNormalizesNewlines(t *testing.T) {
	text, _ := DecodeText([]byte("a\r\nb\rc\nd"))
	if text != "a\nb\nc\nd" {
		t.Errorf("got %q", text)
	}
}

func TestDecodeTextIdempotent(t *testing.T) {
	text, _ := DecodeText([]byte("a\r\nb"))
	text2, _ := DecodeText([]byte(text))
	if text != text2 {
		t.Errorf("DecodeText is not idempotent: %q != %q", text, text2)
	}
}

func TestDecodeTextXMLDeclFallback(t *testing.T) {
	latin1 := []byte(`<?xml version="1.0" encoding="iso-8859-1"?><p>caf`)
	latin1 = append(latin1, 0xE9) // 'é' in Latin-1
	latin1 = append(latin1, []byte(`</p>`)...)

	text, enc := DecodeText(latin1)
	if enc != "iso-8859-1" {
		t.Errorf("got encoding %q, want iso-8859-1", enc)
	}
	if want := "<?xml version=\"1.0\" encoding=\"iso-8859-1\"?><p>café</p>"; text != want {
		t.Errorf("got %q, want %q", text, want)
	}
}
