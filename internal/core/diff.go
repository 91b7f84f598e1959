package core

import (
	"bytes"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// GenerateDiff returns a line oriented +/- listing between the previous and
// the regenerated content of a destination. Empty when both are equal.
func GenerateDiff(name, current, desired string) string {
	if current == desired {
		return ""
	}

	dmp := diffmatchpatch.New()
	a, b, c := dmp.DiffLinesToChars(current, desired)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), c)

	var buff bytes.Buffer
	buff.WriteString("--- " + name + " (previous)\n")
	buff.WriteString("+++ " + name + " (generated)\n")
	for _, diff := range diffs {
		prefix := "  "
		switch diff.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		}
		for _, line := range strings.Split(diff.Text, "\n") {
			if line == "" {
				continue
			}
			buff.WriteString(prefix + line + "\n")
		}
	}
	return buff.String()
}
