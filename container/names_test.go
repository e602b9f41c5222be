package container

import "testing"

func TestIsValidName(t *testing.T) {
	cases := map[string]bool{
		"content.opf":          true,
		"text/chapter1.xhtml":  true,
		"":                     false,
		"/abs/path":            false,
		"../escape":            false,
		"text/../../escape":    false,
		"a/./b":                false,
	}
	for name, want := range cases {
		if got := IsValidName(name); got != want {
			t.Errorf("IsValidName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestHrefToNameRoundTrip(t *testing.T) {
	cases := []struct {
		name, base string
	}{
		{"chapter1.xhtml", "content.opf"},
		{"text/chapter1.xhtml", "content.opf"},
		{"images/cover.jpg", "text/chapter1.xhtml"},
		{"a b/c d.xhtml", "content.opf"},
	}
	for _, c := range cases {
		href := NameToHref(c.name, c.base)
		got, ok := HrefToName(href, c.base)
		if !ok {
			t.Errorf("HrefToName(%q, %q) returned no-name", href, c.base)
			continue
		}
		if got != c.name {
			t.Errorf("round trip: name=%q base=%q href=%q got=%q", c.name, c.base, href, got)
		}
	}
}

func TestNameToHrefNoPathSeparators(t *testing.T) {
	href := NameToHref("a b/c d.xhtml", "content.opf")
	for _, r := range href {
		if r == '\\' {
			t.Fatalf("href %q contains an OS path separator", href)
		}
	}
}

func TestHrefToNameSentinelCases(t *testing.T) {
	cases := []string{
		"http://example.com/x.html",
		"",
		"/abs/path.html",
		"mailto:foo@example.com",
	}
	for _, href := range cases {
		if _, ok := HrefToName(href, "content.opf"); ok {
			t.Errorf("HrefToName(%q) should return no-name", href)
		}
	}
}

func TestHrefToNameRejectsEscape(t *testing.T) {
	if _, ok := HrefToName("../../etc/passwd", "text/chapter1.xhtml"); ok {
		t.Fatal("HrefToName should refuse to escape root")
	}
}

func TestDirectoryOf(t *testing.T) {
	cases := map[string]string{
		"content.opf":         "",
		"text/chapter1.xhtml": "text",
		"a/b/c.css":           "a/b",
	}
	for name, want := range cases {
		if got := DirectoryOf(name); got != want {
			t.Errorf("DirectoryOf(%q) = %q, want %q", name, got, want)
		}
	}
}
