package container

import (
	"strings"
	"testing"

	"github.com/beevik/etree"
)

func parseManifest(t *testing.T, xml string) (*etree.Document, *etree.Element) {
	t.Helper()
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xml); err != nil {
		t.Fatalf("parsing fixture: %v", err)
	}
	manifest := doc.SelectElement("manifest")
	if manifest == nil {
		t.Fatal("fixture has no <manifest>")
	}
	return doc, manifest
}

func TestInsertIntoXMLAppendPreservesIndentation(t *testing.T) {
	doc, manifest := parseManifest(t, `<manifest>
  <item id="a" href="a.xhtml"/>
  <item id="b" href="b.xhtml"/>
</manifest>`)

	item := etree.NewElement("item")
	item.CreateAttr("id", "c")
	item.CreateAttr("href", "c.xhtml")
	InsertIntoXML(manifest, item, -1)

	out, err := doc.WriteToString()
	if err != nil {
		t.Fatalf("serializing: %v", err)
	}
	if !strings.Contains(out, "<item id=\"c\" href=\"c.xhtml\"/>\n") {
		t.Errorf("appended item not followed by newline indentation: %q", out)
	}
	items := manifest.SelectElements("item")
	if len(items) != 3 || items[2].SelectAttrValue("id", "") != "c" {
		t.Fatalf("expected 3 items ending with c, got %v", items)
	}
}

func TestInsertIntoXMLOnlyChild(t *testing.T) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(`<manifest></manifest>`); err != nil {
		t.Fatalf("parsing: %v", err)
	}
	manifest := doc.SelectElement("manifest")

	item := etree.NewElement("item")
	item.CreateAttr("id", "only")
	InsertIntoXML(manifest, item, -1)

	items := manifest.SelectElements("item")
	if len(items) != 1 || items[0].SelectAttrValue("id", "") != "only" {
		t.Fatalf("expected single item, got %v", items)
	}
}

func TestInsertIntoXMLAtIndexZero(t *testing.T) {
	_, manifest := parseManifest(t, `<manifest>
  <item id="a" href="a.xhtml"/>
  <item id="b" href="b.xhtml"/>
</manifest>`)

	item := etree.NewElement("item")
	item.CreateAttr("id", "first")
	InsertIntoXML(manifest, item, 0)

	items := manifest.SelectElements("item")
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[0].SelectAttrValue("id", "") != "first" {
		t.Errorf("expected new item first, got order %v", ids(items))
	}
}

func TestRemoveFromXMLMigratesTail(t *testing.T) {
	doc, manifest := parseManifest(t, `<manifest>
  <item id="a" href="a.xhtml"/>
  <item id="b" href="b.xhtml"/>
  <item id="c" href="c.xhtml"/>
</manifest>`)

	items := manifest.SelectElements("item")
	RemoveFromXML(items[1])

	remaining := manifest.SelectElements("item")
	if len(remaining) != 2 {
		t.Fatalf("expected 2 items after removal, got %d", len(remaining))
	}
	if ids(remaining)[0] != "a" || ids(remaining)[1] != "c" {
		t.Errorf("unexpected remaining order: %v", ids(remaining))
	}
	out, err := doc.WriteToString()
	if err != nil {
		t.Fatalf("serializing: %v", err)
	}
	if strings.Contains(out, `id="b"`) {
		t.Errorf("removed item still present: %q", out)
	}
}

func TestRemoveFromXMLFirstChild(t *testing.T) {
	_, manifest := parseManifest(t, `<manifest>
  <item id="a" href="a.xhtml"/>
  <item id="b" href="b.xhtml"/>
</manifest>`)

	items := manifest.SelectElements("item")
	RemoveFromXML(items[0])

	remaining := manifest.SelectElements("item")
	if len(remaining) != 1 || remaining[0].SelectAttrValue("id", "") != "b" {
		t.Fatalf("expected only item b left, got %v", ids(remaining))
	}
}

func ids(items []*etree.Element) []string {
	out := make([]string, len(items))
	for i, e := range items {
		out[i] = e.SelectAttrValue("id", "")
	}
	return out
}
