package container

import "testing"

func TestCompareToIdenticalClonesIsEmpty(t *testing.T) {
	c := newTestContainer(t)
	clone, err := c.Clone(t.TempDir()+"/clone", Options{})
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	report, err := c.CompareTo(clone)
	if err != nil {
		t.Fatalf("CompareTo: %v", err)
	}
	if !report.Empty() {
		t.Fatalf("expected no differences between a container and its fresh clone, got %+v", report)
	}
}

func TestCompareToDetectsDifferAndOnlyIn(t *testing.T) {
	a := newTestContainer(t)
	b, err := a.Clone(t.TempDir()+"/clone", Options{})
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}

	css, err := b.Parsed("styles/style.css")
	if err != nil {
		t.Fatalf("Parsed: %v", err)
	}
	css.CSS = "body { color: blue; }"
	b.Replace("styles/style.css", css)
	if err := b.Commit(true); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := b.AddFile("text/chapter2.xhtml", []byte("<html><body/></html>"), ""); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	report, err := a.CompareTo(b)
	if err != nil {
		t.Fatalf("CompareTo: %v", err)
	}
	if report.Empty() {
		t.Fatal("expected differences after editing the clone")
	}
	if len(report.OnlyInB) != 1 || report.OnlyInB[0] != "text/chapter2.xhtml" {
		t.Errorf("expected text/chapter2.xhtml only in b, got %v", report.OnlyInB)
	}
	foundDiffer := false
	for _, n := range report.Differ {
		if n == "styles/style.css" {
			foundDiffer = true
		}
	}
	if !foundDiffer {
		t.Errorf("expected styles/style.css to be reported as differing, got %v", report.Differ)
	}
}
