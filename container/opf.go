package container

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// XML namespaces used by the OPF/NCX/container family, kept from the
// teacher's opf.go.
const (
	NsDC      = "http://purl.org/dc/elements/1.1/"
	NsOPF     = "http://www.idpf.org/2007/opf"
	NsXML     = "http://www.w3.org/XML/1998/namespace"
	NsDCTerms = "http://purl.org/dc/terms/"
	NsCalibre = "http://calibre.kovidgoyal.net/2009/metadata"

	OPFMimetype  = "application/oebps-package+xml"
	EPUBMimetype = "application/epub+zip"
)

// OPF wraps the parsed OPF document and gives whitespace-preserving access
// to its package/metadata/manifest/spine/guide elements. Edits operate
// directly on the etree tree (via InsertIntoXML/RemoveFromXML) so unrelated
// whitespace survives round-trips.
type OPF struct {
	Doc      *etree.Document
	Package  *etree.Element
	Metadata *etree.Element
	Manifest *etree.Element
	Spine    *etree.Element
	Guide    *etree.Element // nil if absent
}

// ParseOPF parses raw OPF bytes into an *OPF, running preprocessXML on them
// first.
func ParseOPF(data []byte) (*OPF, error) {
	doc := etree.NewDocument()
	data = preprocessXML(data)
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, invalidBookf("malformed OPF: %v", err)
	}

	root := doc.SelectElement("package")
	if root == nil {
		return nil, invalidBookf("no <package> element in OPF")
	}

	o := &OPF{Doc: doc, Package: root}
	o.Metadata = root.SelectElement("metadata")
	o.Manifest = root.SelectElement("manifest")
	o.Spine = root.SelectElement("spine")
	o.Guide = root.SelectElement("guide")

	if o.Metadata == nil {
		return nil, invalidBookf("OPF missing <metadata>")
	}
	if o.Manifest == nil {
		return nil, invalidBookf("OPF missing <manifest>")
	}
	if o.Spine == nil {
		return nil, invalidBookf("OPF missing <spine>")
	}
	return o, nil
}

var commentRe = regexp.MustCompile(`(?s)<!--(.*?)-->`)

// preprocessXML fixes common real-world malformations: XML comments
// containing "--" (invalid XML, but common in the wild) and the "mlns="
// typo for "xmlns=".
func preprocessXML(data []byte) []byte {
	data = removeInvalidComments(data)
	data = fixNamespaceTypo(data)
	return data
}

func removeInvalidComments(data []byte) []byte {
	return commentRe.ReplaceAllFunc(data, func(match []byte) []byte {
		content := string(match[4 : len(match)-3])
		if strings.Contains(content, "--") {
			return nil
		}
		return match
	})
}

func fixNamespaceTypo(data []byte) []byte {
	return []byte(strings.ReplaceAll(string(data), " mlns=", " xmlns="))
}

// ManifestItem is a read-friendly view of a <manifest><item> element backed
// by the live etree.Element.
type ManifestItem struct {
	Elem       *etree.Element
	ID         string
	Href       string
	MediaType  string
	Properties string
}

func (o *OPF) manifestItemElements() []*etree.Element {
	return o.Manifest.SelectElements("item")
}

// ManifestItems returns every manifest item in document order.
func (o *OPF) ManifestItems() []ManifestItem {
	elems := o.manifestItemElements()
	out := make([]ManifestItem, 0, len(elems))
	for _, e := range elems {
		out = append(out, ManifestItem{
			Elem:       e,
			ID:         e.SelectAttrValue("id", ""),
			Href:       e.SelectAttrValue("href", ""),
			MediaType:  e.SelectAttrValue("media-type", ""),
			Properties: e.SelectAttrValue("properties", ""),
		})
	}
	return out
}

// ManifestItemByID looks up a manifest item by its id attribute.
func (o *OPF) ManifestItemByID(id string) (*etree.Element, bool) {
	for _, e := range o.manifestItemElements() {
		if e.SelectAttrValue("id", "") == id {
			return e, true
		}
	}
	return nil, false
}

// ManifestItemByHref looks up a manifest item whose href attribute equals
// href verbatim (byte-for-byte, not resolved).
func (o *OPF) ManifestItemByHref(href string) (*etree.Element, bool) {
	for _, e := range o.manifestItemElements() {
		if e.SelectAttrValue("href", "") == href {
			return e, true
		}
	}
	return nil, false
}

// UsedManifestIDs returns the set of ids currently assigned in the manifest.
func (o *OPF) UsedManifestIDs() map[string]struct{} {
	ids := make(map[string]struct{})
	for _, e := range o.manifestItemElements() {
		ids[e.SelectAttrValue("id", "")] = struct{}{}
	}
	return ids
}

// NextUniqueID synthesizes an id with the given prefix and the smallest
// non-colliding integer suffix, starting from a blank (bare-prefix) id.
func NextUniqueID(used map[string]struct{}, prefix string) string {
	if _, taken := used[prefix]; !taken {
		return prefix
	}
	for i := 1; ; i++ {
		candidate := prefix + strconv.Itoa(i)
		if _, taken := used[candidate]; !taken {
			return candidate
		}
	}
}

// AppendManifestItem inserts a new <item id=".." href=".." media-type=".."/>
// at the end of the manifest, whitespace-preserving.
func (o *OPF) AppendManifestItem(id, href, mediaType, properties string) *etree.Element {
	item := etree.NewElement("item")
	item.CreateAttr("id", id)
	item.CreateAttr("href", href)
	item.CreateAttr("media-type", mediaType)
	if properties != "" {
		item.CreateAttr("properties", properties)
	}
	InsertIntoXML(o.Manifest, item, -1)
	return item
}

// SpineItemRefs returns the spine's <itemref> elements in document order.
func (o *OPF) SpineItemRefs() []*etree.Element {
	return o.Spine.SelectElements("itemref")
}

// AppendSpineItemRef appends an <itemref idref=".."/> (with optional
// linear="no") to the end of the spine.
func (o *OPF) AppendSpineItemRef(idref string, linear bool) *etree.Element {
	ir := etree.NewElement("itemref")
	ir.CreateAttr("idref", idref)
	if !linear {
		ir.CreateAttr("linear", "no")
	}
	InsertIntoXML(o.Spine, ir, -1)
	return ir
}

// GuideReferences returns the guide's <reference> elements, or nil if there
// is no <guide>.
func (o *OPF) GuideReferences() []*etree.Element {
	if o.Guide == nil {
		return nil
	}
	return o.Guide.SelectElements("reference")
}

// UniqueIdentifierText returns the text of the metadata identifier whose id
// attribute matches the package's unique-identifier attribute, used by the
// IDPF font-obfuscation key derivation (the Adobe derivation picks its
// identifier by scheme or urn:uuid prefix instead).
func (o *OPF) UniqueIdentifierText() (string, bool) {
	uid := o.Package.SelectAttrValue("unique-identifier", "")
	if uid == "" {
		return "", false
	}
	for _, e := range o.Metadata.SelectElements("identifier") {
		if e.SelectAttrValue("id", "") == uid {
			return e.Text(), true
		}
	}
	return "", false
}

// MetaNamed returns the <meta name="..."> element with the given name
// (EPUB2 style), or nil.
func (o *OPF) MetaNamed(name string) *etree.Element {
	for _, e := range o.Metadata.SelectElements("meta") {
		if e.SelectAttrValue("name", "") == name {
			return e
		}
	}
	return nil
}

// SetCoverMeta sets (or creates) <meta name="cover" content=contentID/>,
// re-ordering attributes so "name" precedes "content" for reader
// compatibility.
func (o *OPF) SetCoverMeta(contentID string) {
	if m := o.MetaNamed("cover"); m != nil {
		m.RemoveAttr("name")
		m.RemoveAttr("content")
		m.CreateAttr("name", "cover")
		m.CreateAttr("content", contentID)
		return
	}
	m := etree.NewElement("meta")
	m.CreateAttr("name", "cover")
	m.CreateAttr("content", contentID)
	InsertIntoXML(o.Metadata, m, -1)
}

// RemoveCoverMetaFor removes <meta name="cover" content=freedID/> if present.
func (o *OPF) RemoveCoverMetaFor(freedID string) {
	if m := o.MetaNamed("cover"); m != nil && m.SelectAttrValue("content", "") == freedID {
		RemoveFromXML(m)
	}
}

// RemoveCalibreEmptyMeta removes calibre:-prefixed <meta> elements whose
// content is empty or "{}".
func (o *OPF) RemoveCalibreEmptyMeta() {
	for _, e := range o.Metadata.SelectElements("meta") {
		name := e.SelectAttrValue("name", "")
		if !strings.HasPrefix(name, "calibre:") {
			continue
		}
		content := e.SelectAttrValue("content", "")
		if content == "" || content == "{}" {
			RemoveFromXML(e)
		}
	}
}
