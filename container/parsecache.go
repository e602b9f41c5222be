package container

import (
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/net/html"
)

// ArtifactKind tags the variant held in a parsed cache entry.
type ArtifactKind int

const (
	ArtifactXML ArtifactKind = iota
	ArtifactHTML
	ArtifactCSS
)

// Artifact is the tagged sum of parsed representations a Name can hold:
// an XML tree (OPF, NCX, container.xml, encryption.xml), an HTML tree, or a
// raw CSS source string (no byte offsets are stored; link rewriting
// rescans the string).
//
// Only one of XML/HTML/CSS is populated, selected by Kind.
type Artifact struct {
	Kind ArtifactKind

	XML  *etree.Document
	HTML *html.Node

	// CSS holds the stylesheet source text. URL extraction scans this raw
	// text directly rather than building a full CSS AST.
	CSS string
}

// parseCache is the per-container lazy, per-name store of parsed artifacts,
// with an encoding memo recording the decoding actually used.
type parseCache struct {
	artifacts map[string]*Artifact
	encoding  map[string]string
}

func newParseCache() *parseCache {
	return &parseCache{
		artifacts: make(map[string]*Artifact),
		encoding:  make(map[string]string),
	}
}

func (c *parseCache) get(name string) (*Artifact, bool) {
	a, ok := c.artifacts[name]
	return a, ok
}

func (c *parseCache) set(name string, a *Artifact) {
	c.artifacts[name] = a
}

func (c *parseCache) evict(name string) {
	delete(c.artifacts, name)
	delete(c.encoding, name)
}

func (c *parseCache) rekey(oldName, newName string) {
	if a, ok := c.artifacts[oldName]; ok {
		c.artifacts[newName] = a
		delete(c.artifacts, oldName)
	}
	if e, ok := c.encoding[oldName]; ok {
		c.encoding[newName] = e
		delete(c.encoding, oldName)
	}
}

// dirtySet is the set of names whose parsed form diverges from disk.
type dirtySet map[string]struct{}

func newDirtySet() dirtySet { return make(dirtySet) }

func (d dirtySet) add(name string)      { d[name] = struct{}{} }
func (d dirtySet) remove(name string)   { delete(d, name) }
func (d dirtySet) has(name string) bool { _, ok := d[name]; return ok }
func (d dirtySet) rekey(oldName, newName string) {
	if d.has(oldName) {
		delete(d, oldName)
		d.add(newName)
	}
}
func (d dirtySet) names() []string {
	out := make([]string, 0, len(d))
	for n := range d {
		out = append(out, n)
	}
	return out
}

// MimeFamily classifies a MIME type into the parser family that handles it.
type MimeFamily int

const (
	FamilyOther MimeFamily = iota
	FamilyHTML
	FamilyXML
	FamilyCSS
)

const ncxMimetype = "application/x-dtbncx+xml"

// ClassifyMime dispatches: HTML-family by MIME, XML-family by "+xml"/"/xml"
// suffix or the NCX MIME, CSS-family for text/css, and FamilyOther for
// everything else.
func ClassifyMime(mime string) MimeFamily {
	m := strings.ToLower(strings.TrimSpace(mime))
	switch m {
	case "application/xhtml+xml", "text/html":
		return FamilyHTML
	case ncxMimetype:
		return FamilyXML
	case "text/css":
		return FamilyCSS
	}
	if strings.HasSuffix(m, "+xml") || strings.HasSuffix(m, "/xml") {
		return FamilyXML
	}
	return FamilyOther
}

// IsHTMLFamily, IsXMLFamily, IsCSSFamily are standalone predicates reused by
// both the parse cache and iterlinks dispatch instead of inlining the
// suffix checks twice.
func IsHTMLFamily(mime string) bool { return ClassifyMime(mime) == FamilyHTML }
func IsXMLFamily(mime string) bool  { return ClassifyMime(mime) == FamilyXML }
func IsCSSFamily(mime string) bool  { return ClassifyMime(mime) == FamilyCSS }

// IsFontMimetype reports whether mime names an embedded font resource,
// the class of file eligible for obfuscation.
func IsFontMimetype(mime string) bool {
	switch strings.ToLower(mime) {
	case "application/vnd.ms-opentype", "application/font-sfnt",
		"application/x-font-truetype", "application/x-font-opentype",
		"font/otf", "font/ttf", "font/woff", "application/font-woff",
		"font/woff2", "application/font-woff2":
		return true
	default:
		return false
	}
}
