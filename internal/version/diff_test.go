package version

import (
	"strings"
	"testing"
)

func reconstruct(d Diff) string {
	var lines []string
	for _, c := range d.Changes {
		if c.Type == LineAdd || c.Type == LineUnchanged {
			lines = append(lines, c.Value)
		}
	}
	return strings.Join(lines, "\n")
}

func TestCompareIdenticalContent(t *testing.T) {
	content := "line1\nline2\nline3"
	d := Compare(content, content, 0)

	if d.Additions != 0 || d.Deletions != 0 {
		t.Fatalf("expected no additions or deletions, got +%d -%d", d.Additions, d.Deletions)
	}
	for i, c := range d.Changes {
		if c.Type != LineUnchanged {
			t.Errorf("change %d: expected unchanged, got %s", i, c.Type)
		}
		if c.LineNumber != i+1 {
			t.Errorf("change %d: expected line number %d, got %d", i, i+1, c.LineNumber)
		}
	}
}

func TestCompareAppendedLine(t *testing.T) {
	d := Compare("line1\nline2", "line1\nline2\nline3", 0)

	if d.Additions != 1 || d.Deletions != 0 {
		t.Fatalf("expected +1 -0, got +%d -%d", d.Additions, d.Deletions)
	}
	last := d.Changes[len(d.Changes)-1]
	if last.Type != LineAdd || last.Value != "line3" || last.LineNumber != 3 {
		t.Fatalf("unexpected last change: %+v", last)
	}
}

func TestCompareReplacedLine(t *testing.T) {
	d := Compare("alpha\nbeta\ngamma", "alpha\nBETA\ngamma", 0)

	if d.Additions != 1 || d.Deletions != 1 {
		t.Fatalf("expected +1 -1, got +%d -%d", d.Additions, d.Deletions)
	}

	var sawRemove, sawAdd bool
	for _, c := range d.Changes {
		switch {
		case c.Type == LineRemove && c.Value == "beta":
			sawRemove = true
			if c.LineNumber != 0 {
				t.Errorf("removed line carries line number %d", c.LineNumber)
			}
		case c.Type == LineAdd && c.Value == "BETA":
			sawAdd = true
			if c.LineNumber != 2 {
				t.Errorf("added line: expected line number 2, got %d", c.LineNumber)
			}
		}
	}
	if !sawRemove || !sawAdd {
		t.Fatalf("missing expected changes: %+v", d.Changes)
	}
}

func TestCompareReconstructsNewContent(t *testing.T) {
	cases := []struct{ name, old, new string }{
		{"append", "a\nb", "a\nb\nc"},
		{"prepend", "a\nb", "z\na\nb"},
		{"delete middle", "a\nb\nc\nd", "a\nd"},
		{"replace all", "a\nb\nc", "x\ny"},
		{"empty to content", "", "a\nb"},
		{"content to empty", "a\nb", ""},
		{"interleaved", "a\nb\nc\nd\ne", "a\nx\nc\ny\ne\nf"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Compare(tc.old, tc.new, 0)
			if got := reconstruct(d); got != tc.new {
				t.Fatalf("reconstruction mismatch:\nwant %q\ngot  %q", tc.new, got)
			}
			if d.Coarse {
				t.Fatal("unexpected coarse diff")
			}
		})
	}
}

func TestCompareLineNumbersFollowNewContent(t *testing.T) {
	d := Compare("a\nb\nc", "b\nc\nd", 0)

	want := 1
	for _, c := range d.Changes {
		if c.Type == LineRemove {
			continue
		}
		if c.LineNumber != want {
			t.Fatalf("expected line number %d, got %d (%+v)", want, c.LineNumber, c)
		}
		want++
	}
}

func TestCompareFallsBackOverLineCap(t *testing.T) {
	old := strings.Repeat("same\n", 50) + "old tail"
	new := strings.Repeat("same\n", 50) + "new tail"

	d := Compare(old, new, 10)
	if !d.Coarse {
		t.Fatal("expected coarse fallback over the line cap")
	}
	if d.Deletions != 51 || d.Additions != 51 {
		t.Fatalf("expected full rewrite counts, got +%d -%d", d.Additions, d.Deletions)
	}
	if got := reconstruct(d); got != new {
		t.Fatalf("coarse diff does not reconstruct new content")
	}
}

func TestUnifiedDiffOutput(t *testing.T) {
	out, err := Unified("a\nb\nc\n", "a\nB\nc\n", "note@v1", "note@v2")
	if err != nil {
		t.Fatalf("unified: %v", err)
	}
	for _, want := range []string{"--- note@v1", "+++ note@v2", "-b", "+B"} {
		if !strings.Contains(out, want) {
			t.Errorf("unified output missing %q:\n%s", want, out)
		}
	}
}
