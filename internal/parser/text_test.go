package parser

import (
	"strings"
	"testing"
)

func TestTextParser_NormalisesNewlines(t *testing.T) {
	p := &TextParser{}
	out, err := p.Parse(strings.NewReader("\ufeff# A\r\nline\r\n"), "notes.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "# A\nline\n" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestCSVParser_BatchesRows(t *testing.T) {
	var b strings.Builder
	b.WriteString("name,age\n")
	for i := 0; i < 25; i++ {
		b.WriteString("x,1\n")
	}
	out, err := (&CSVParser{}).Parse(strings.NewReader(b.String()), "people.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hs := ExtractHeadings(SplitLines(out))
	if len(hs) != 3 {
		t.Fatalf("expected 3 headings, got %d: %+v", len(hs), hs)
	}
	if hs[0].Title != "people" || hs[1].Title != "Rows 2-21" || hs[2].Title != "Rows 22-26" {
		t.Errorf("unexpected headings %+v", hs)
	}
	if !strings.Contains(out, "name: x, age: 1") {
		t.Errorf("expected labelled cells in output:\n%s", out)
	}
}

func TestHTMLParser_Headings(t *testing.T) {
	src := `<html><head><title>T</title><script>x()</script></head><body>
<h1>Overview</h1><p>Hello   world.</p>
<h3>Detail</h3><ul><li>one</li><li>two</li></ul>
<footer>skip</footer></body></html>`
	out, err := (&HTMLParser{}).Parse(strings.NewReader(src), "page.html")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "# Overview\n\nHello world.\n\n### Detail\n\n- one\n\n- two\n"
	if out != want {
		t.Errorf("expected:\n%q\ngot:\n%q", want, out)
	}
}

func TestPagesToText(t *testing.T) {
	out := pagesToText([]string{"first page", "  ", "third page"})
	hs := ExtractHeadings(SplitLines(out))
	if len(hs) != 2 || hs[0].Title != "Page 1" || hs[1].Title != "Page 3" {
		t.Errorf("unexpected headings %+v", hs)
	}

	out = pagesToText([]string{"# Real heading\nbody"})
	if !strings.HasPrefix(out, "# Real heading") {
		t.Errorf("expected headings to be preserved, got %q", out)
	}
}
