package container

import "testing"

func TestStripOPFPrefixLeavesAttributesAlone(t *testing.T) {
	in := []byte(`<opf:metadata><dc:identifier opf:scheme="uuid">x</dc:identifier></opf:metadata>`)
	out := stripOPFPrefix(in)
	want := `<metadata><dc:identifier opf:scheme="uuid">x</dc:identifier></metadata>`
	if string(out) != want {
		t.Errorf("stripOPFPrefix = %q, want %q", out, want)
	}
}

func TestStripOPFPrefixClosingTag(t *testing.T) {
	in := []byte(`<opf:guide></opf:guide>`)
	out := stripOPFPrefix(in)
	if string(out) != "<guide></guide>" {
		t.Errorf("stripOPFPrefix = %q", out)
	}
}

func TestNormalizeOPFReordersCoverMetaAttributes(t *testing.T) {
	c := newTestContainer(t)
	c.opf.SetCoverMeta("cover-img")
	m := c.opf.MetaNamed("cover")
	// Force a disordered attribute list to confirm normalizeOPF fixes order.
	m.RemoveAttr("name")
	m.RemoveAttr("content")
	m.CreateAttr("content", "cover-img")
	m.CreateAttr("name", "cover")

	c.normalizeOPF()

	attrs := m.Attr
	if len(attrs) < 2 || attrs[0].Key != "name" || attrs[1].Key != "content" {
		t.Errorf("expected name before content after normalizeOPF, got %v", attrs)
	}
}

func TestSerializeItemOPFStripsPrefix(t *testing.T) {
	c := newTestContainer(t)
	a, err := c.Parsed(c.OPFName())
	if err != nil {
		t.Fatalf("Parsed: %v", err)
	}
	c.Replace(c.OPFName(), a)

	data, err := c.serializeItem(c.OPFName())
	if err != nil {
		t.Fatalf("serializeItem: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty serialized OPF")
	}
}

func TestSerializeItemFallsBackToDiskWhenUncached(t *testing.T) {
	c := newTestContainer(t)
	data, err := c.serializeItem("styles/style.css")
	if err != nil {
		t.Fatalf("serializeItem: %v", err)
	}
	if string(data) != "body { color: black; }" {
		t.Errorf("expected raw disk bytes for an uncached name, got %q", data)
	}
}

func TestNormalizeOPFResetsMetadataIndentation(t *testing.T) {
	c := newTestContainer(t)
	meta := c.opf.Metadata
	children := elementChildren(meta)
	if len(children) < 2 {
		t.Fatalf("expected at least 2 metadata children, got %d", len(children))
	}

	// Simulate whitespace drift left behind by prior etree mutations.
	setLeadingText(meta, "\n  ")
	setTail(children[0], "\n")
	setTail(children[len(children)-1], "\n\n  ")

	c.normalizeOPF()

	indent := meta.Text()
	for _, child := range children[:len(children)-1] {
		if tailOf(child) != indent {
			t.Errorf("child %s tail = %q, want %q", child.Tag, tailOf(child), indent)
		}
	}
	last := children[len(children)-1]
	if tailOf(last) != dedent(indent) {
		t.Errorf("last child tail = %q, want dedented %q", tailOf(last), dedent(indent))
	}
}

func TestSetPrettyPrintIndentsXML(t *testing.T) {
	c := newTestContainer(t)
	a, err := c.Parsed(c.OPFName())
	if err != nil {
		t.Fatalf("Parsed: %v", err)
	}
	c.Replace(c.OPFName(), a)
	c.SetPrettyPrint(c.OPFName(), true)

	data, err := c.serializeItem(c.OPFName())
	if err != nil {
		t.Fatalf("serializeItem: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty serialized OPF")
	}
}
