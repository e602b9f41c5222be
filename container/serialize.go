package container

import (
	"bytes"
	"regexp"

	"github.com/beevik/etree"
	"golang.org/x/net/html"
)

// SetPrettyPrint marks (or unmarks) name for indented serialization. Names
// outside this set are serialized exactly as their in-memory tree stands,
// which is how the manual whitespace-preserving edits in xmledit.go survive
// a round-trip unmodified.
func (c *Container) SetPrettyPrint(name string, pretty bool) {
	if pretty {
		c.prettyPrint[name] = struct{}{}
	} else {
		delete(c.prettyPrint, name)
	}
}

// serializeItem produces the on-disk bytes for name from its cached parsed
// artifact. dirtied names are required to already be in the cache (the
// dirtied ⊆ parsed_cache invariant), so this never triggers a fresh parse.
func (c *Container) serializeItem(name string) ([]byte, error) {
	a, ok := c.cache.get(name)
	if !ok {
		raw, err := c.readFile(name)
		if err != nil {
			return nil, err
		}
		return raw, nil
	}

	if name == c.opfName {
		c.normalizeOPF()
	}

	_, pretty := c.prettyPrint[name]

	switch a.Kind {
	case ArtifactXML:
		if pretty {
			a.XML.Indent(2)
		}
		data, err := a.XML.WriteToBytes()
		if err != nil {
			return nil, ioErrorWrap("serializing "+name, err)
		}
		if name == c.opfName {
			data = stripOPFPrefix(data)
		}
		return data, nil
	case ArtifactHTML:
		var buf bytes.Buffer
		if err := html.Render(&buf, a.HTML); err != nil {
			return nil, ioErrorWrap("serializing "+name, err)
		}
		return buf.Bytes(), nil
	default:
		return []byte(a.CSS), nil
	}
}

// normalizeOPF runs the fixed OPF normalization pass before serialization:
// stripping empty calibre: meta elements, reordering the cover meta's
// attributes so "name" precedes "content", and resetting metadata's
// indentation so edits made through AppendManifestItem/RemoveFromXML and
// similar don't accumulate stray whitespace over repeated commits.
func (c *Container) normalizeOPF() {
	c.opf.RemoveCalibreEmptyMeta()
	if m := c.opf.MetaNamed("cover"); m != nil {
		content := m.SelectAttrValue("content", "")
		m.RemoveAttr("name")
		m.RemoveAttr("content")
		m.CreateAttr("name", "cover")
		m.CreateAttr("content", content)
	}
	normalizeIndentation(c.opf.Metadata)
}

// normalizeIndentation resets parent's leading text and each child's tail
// to a single consistent indent, derived from parent's own current leading
// text (or a 4-space default if empty), with the last child dedented one
// level to line up with the closing tag.
func normalizeIndentation(parent *etree.Element) {
	if parent == nil {
		return
	}
	children := elementChildren(parent)
	if len(children) == 0 {
		return
	}
	indent := parent.Text()
	if indent == "" {
		indent = "\n    "
	}
	setLeadingText(parent, indent)
	closeIndent := dedent(indent)
	last := len(children) - 1
	for i, child := range children {
		if i == last {
			setTail(child, closeIndent)
		} else {
			setTail(child, indent)
		}
	}
}

var opfPrefixTagRe = regexp.MustCompile(`<(/?)opf:`)

// stripOPFPrefix removes the "opf:" prefix the XML serializer sometimes
// attaches to element tags in the OPF's default namespace, which some
// reading systems reject. Attribute-level "opf:" prefixes (opf:scheme,
// opf:file-as, opf:role) are legitimate namespace use and are left alone,
// since the pattern only matches tag openers, never " opf:attr=".
func stripOPFPrefix(data []byte) []byte {
	return opfPrefixTagRe.ReplaceAll(data, []byte("<$1"))
}
