package protocol

import (
	"fmt"
	"slices"
	"strings"
	"unicode"
)

type repeatedBlock struct {
	sequence []string
	count    int
}

// CompressCallLog folds repeated runs of log lines into "N × line" blocks
// and indents every line as a list item.
func CompressCallLog(log []string) []string {
	lines := make([]string, 0, len(log))
	for _, block := range findRepeatedBlocks(log) {
		countPrefix := fmt.Sprintf("%d × ", block.count)
		for i, line := range block.sequence {
			prefix := "  " + leadingWhitespace(line)
			trimmed := strings.TrimSpace(line)
			switch {
			case block.count > 1 && i == 0:
				lines = append(lines, prefix+countPrefix+trimmed)
			case block.count > 1:
				pad := strings.Repeat(" ", len([]rune(countPrefix))-2)
				lines = append(lines, prefix+pad+"- "+trimmed)
			default:
				lines = append(lines, prefix+"- "+trimmed)
			}
		}
	}
	return lines
}

func findRepeatedBlocks(s []string) []repeatedBlock {
	n := len(s)
	var out []repeatedBlock
	for i := 0; i < n; {
		best := repeatedBlock{sequence: s[i : i+1], count: 1}
		bestLen := 1
		for p := 1; p <= n-i; p++ {
			seq := s[i : i+p]
			k := 1
			for i+p*(k+1) <= n && slices.Equal(s[i+p*k:i+p*(k+1)], seq) {
				k++
			}
			if k > 1 && k*p > bestLen {
				best = repeatedBlock{sequence: seq, count: k}
				bestLen = k * p
			}
		}
		out = append(out, best)
		i += bestLen
	}
	return out
}

func leadingWhitespace(s string) string {
	idx := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsSpace(r) })
	if idx < 0 {
		return s
	}
	return s[:idx]
}
