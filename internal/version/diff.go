package version

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

const (
	LineAdd       = "add"
	LineRemove    = "remove"
	LineUnchanged = "unchanged"
)

// Change is one line of an edit script. LineNumber is the 1-based position
// in the new content and is set for add and unchanged lines only; removed
// lines have no position in the result.
type Change struct {
	Type       string `json:"type"`
	Value      string `json:"value"`
	LineNumber int    `json:"lineNumber,omitempty"`
}

// Diff is a full line-level edit script between two content strings.
// Applying the add and unchanged lines in order reproduces the new content.
type Diff struct {
	Additions int      `json:"additions"`
	Deletions int      `json:"deletions"`
	Changes   []Change `json:"changes"`
	Coarse    bool     `json:"coarse,omitempty"`
}

// Compare computes the line edit script between two contents using an LCS
// table, O(n*m) in line counts. If either side exceeds maxLines (0 means no
// limit) the quadratic walk is skipped and a coarse whole-document script is
// returned instead, with Coarse set.
func Compare(oldContent, newContent string, maxLines int) Diff {
	oldLines := strings.Split(oldContent, "\n")
	newLines := strings.Split(newContent, "\n")

	if maxLines > 0 && (len(oldLines) > maxLines || len(newLines) > maxLines) {
		return coarseDiff(oldLines, newLines)
	}

	n, m := len(oldLines), len(newLines)

	// dp[i][j] holds the LCS length of oldLines[:i] and newLines[:j].
	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if oldLines[i-1] == newLines[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
			} else if dp[i-1][j] >= dp[i][j-1] {
				dp[i][j] = dp[i-1][j]
			} else {
				dp[i][j] = dp[i][j-1]
			}
		}
	}

	// Iterative backtrack from the far corner; the script comes out
	// reversed and is flipped at the end.
	var out Diff
	changes := make([]Change, 0, n+m)
	i, j := n, m
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && oldLines[i-1] == newLines[j-1]:
			changes = append(changes, Change{Type: LineUnchanged, Value: newLines[j-1], LineNumber: j})
			i--
			j--
		case j > 0 && (i == 0 || dp[i][j-1] >= dp[i-1][j]):
			changes = append(changes, Change{Type: LineAdd, Value: newLines[j-1], LineNumber: j})
			out.Additions++
			j--
		default:
			changes = append(changes, Change{Type: LineRemove, Value: oldLines[i-1]})
			out.Deletions++
			i--
		}
	}

	for left, right := 0, len(changes)-1; left < right; left, right = left+1, right-1 {
		changes[left], changes[right] = changes[right], changes[left]
	}
	out.Changes = changes
	return out
}

// coarseDiff marks every old line removed and every new line added. It keeps
// the reconstruction property of Compare without the quadratic table.
func coarseDiff(oldLines, newLines []string) Diff {
	out := Diff{
		Coarse:    true,
		Additions: len(newLines),
		Deletions: len(oldLines),
		Changes:   make([]Change, 0, len(oldLines)+len(newLines)),
	}
	for _, line := range oldLines {
		out.Changes = append(out.Changes, Change{Type: LineRemove, Value: line})
	}
	for idx, line := range newLines {
		out.Changes = append(out.Changes, Change{Type: LineAdd, Value: line, LineNumber: idx + 1})
	}
	return out
}

// Unified renders a classic unified diff for terminal display.
func Unified(oldContent, newContent, fromLabel, toLabel string) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(oldContent),
		B:        difflib.SplitLines(newContent),
		FromFile: fromLabel,
		ToFile:   toLabel,
		Context:  3,
	})
}
