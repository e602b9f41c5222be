package container

import (
	"crypto/sha1"
	"os"
	"strings"

	"github.com/google/uuid"
)

const (
	adobeAlgorithmURI = "http://ns.adobe.com/pdf/enc#RC"
	idpfAlgorithmURI  = "http://www.idpf.org/2008/embedding"

	adobeObfuscationLen = 1024
	idpfObfuscationLen  = 1040
)

// fontObfuscation records the algorithm and derived key used to obfuscate
// one embedded font, as recovered from META-INF/encryption.xml.
type fontObfuscation struct {
	Algorithm string
	Key       []byte
}

func (f fontObfuscation) obfuscationLen() int {
	if f.Algorithm == idpfAlgorithmURI {
		return idpfObfuscationLen
	}
	return adobeObfuscationLen
}

// processObfuscation reads META-INF/encryption.xml, identifies the
// obfuscation algorithm for each entry (any other algorithm URI signals DRM
// and aborts opening), derives the required key, and XORs the obfuscated
// bytes clear on disk so the rest of the core sees plain font data.
func (e *EPUB) processObfuscation() error {
	a, err := e.Parsed("META-INF/encryption.xml")
	if err != nil {
		return err
	}

	var idpfKey, adobeKey []byte
	var idpfErr, adobeErr error

	for _, ed := range a.XML.FindElements("//EncryptedData") {
		method := ed.FindElement("EncryptionMethod")
		if method == nil {
			continue
		}
		algorithm := method.SelectAttrValue("Algorithm", "")
		if algorithm != adobeAlgorithmURI && algorithm != idpfAlgorithmURI {
			return drmf("unsupported encryption algorithm %q in encryption.xml", algorithm)
		}

		ref := ed.FindElement("CipherData/CipherReference")
		if ref == nil {
			continue
		}
		uri := ref.SelectAttrValue("URI", "")
		name, ok := HrefToName(uri, "")
		if !ok {
			continue
		}

		var key []byte
		switch algorithm {
		case idpfAlgorithmURI:
			if idpfKey == nil && idpfErr == nil {
				idpfKey, idpfErr = e.deriveIDPFKey()
			}
			if idpfErr != nil {
				return idpfErr
			}
			key = idpfKey
		case adobeAlgorithmURI:
			if adobeKey == nil && adobeErr == nil {
				adobeKey, adobeErr = e.deriveAdobeKey()
			}
			if adobeErr != nil {
				return adobeErr
			}
			key = adobeKey
		}
		if key == nil {
			return invalidBookf("could not derive obfuscation key for %q", name)
		}

		obf := fontObfuscation{Algorithm: algorithm, Key: key}
		if err := e.xorFontInPlace(name, obf); err != nil {
			return err
		}
		e.obfuscated[name] = obf
	}
	return nil
}

// deriveIDPFKey locates the OPF unique-identifier's text, takes the portion
// after its last ':', and SHA-1-digests the raw bytes.
func (e *EPUB) deriveIDPFKey() ([]byte, error) {
	text, ok := e.OPF().UniqueIdentifierText()
	if !ok {
		return nil, nil
	}
	id := lastColonSegment(strings.TrimSpace(text))
	sum := sha1.Sum([]byte(id))
	return sum[:], nil
}

// deriveAdobeKey finds a metadata identifier whose scheme attribute equals
// "uuid" (case-insensitive) or whose text starts with "urn:uuid:", extracts
// the portion after the last ':', and parses it as a UUID.
func (e *EPUB) deriveAdobeKey() ([]byte, error) {
	opf := e.OPF()
	for _, el := range opf.Metadata.SelectElements("identifier") {
		scheme := el.SelectAttrValue("scheme", "")
		text := strings.TrimSpace(el.Text())
		isUUIDScheme := strings.EqualFold(scheme, "uuid")
		isUUIDURN := strings.HasPrefix(strings.ToLower(text), "urn:uuid:")
		if !isUUIDScheme && !isUUIDURN {
			continue
		}
		raw := lastColonSegment(text)
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, nil
		}
		key := make([]byte, 16)
		copy(key, id[:])
		return key, nil
	}
	return nil, nil
}

func lastColonSegment(s string) string {
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// xorFontInPlace applies the obfuscation XOR to the first N bytes of name's
// file on disk, where N depends on the algorithm. The operation is its own
// inverse: applying it once at open clears the font, applying it again at
// commit re-obfuscates it.
func (e *EPUB) xorFontInPlace(name string, obf fontObfuscation) error {
	p := e.abspath(name)
	data, err := os.ReadFile(p)
	if err != nil {
		return ioErrorWrap("reading obfuscated font "+name, err)
	}

	n := obf.obfuscationLen()
	if n > len(data) {
		n = len(data)
	}
	xorBytes(data[:n], obf.Key)

	return e.writeFile(name, data)
}

func xorBytes(data, key []byte) {
	if len(key) == 0 {
		return
	}
	for i := range data {
		data[i] ^= key[i%len(key)]
	}
}
