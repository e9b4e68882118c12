package hostsfile

import (
	"strings"
)

// Document is a hosts file split around the managed block.
//
// Prefix holds every line before the first line containing the delimiter,
// byte-for-byte. Block holds the lines found between the first delimiter and
// the next one; it is nil when no delimiter is present.
type Document struct {
	Prefix []string
	Block  []string

	// Unterminated is set when an opening delimiter has no closing partner.
	Unterminated bool
	// Discarded counts non-blank lines found after the managed block closed.
	// They are dropped on the next render.
	Discarded int
}

// HasBlock reports whether a managed block (even a broken one) was found.
func (d Document) HasBlock() bool { return d.Block != nil }

// Parse splits content on "\n" and locates the managed block. A line belongs
// to the block boundary when it equals or contains delimiter.
func Parse(content []byte, delimiter string) Document {
	lines := splitLines(string(content))

	cut := -1
	for i, line := range lines {
		if strings.Contains(line, delimiter) {
			cut = i
			break
		}
	}
	if cut < 0 {
		return Document{Prefix: lines}
	}

	doc := Document{Prefix: lines[:cut], Block: []string{}}
	rest := lines[cut+1:]
	closeAt := -1
	for i, line := range rest {
		if strings.Contains(line, delimiter) {
			closeAt = i
			break
		}
	}
	if closeAt < 0 {
		doc.Block = rest
		doc.Unterminated = true
		return doc
	}
	doc.Block = rest[:closeAt]
	for _, line := range rest[closeAt+1:] {
		if strings.TrimSpace(line) != "" {
			doc.Discarded++
		}
	}
	return doc
}

// Render produces the full file content: the prefix, then, when entries is
// non-nil, the managed block. Output always ends with a single newline unless
// there is nothing to write.
func Render(prefix []string, delimiter string, entries []string) []byte {
	lines := make([]string, 0, len(prefix)+len(entries)+2)
	lines = append(lines, prefix...)
	if entries != nil {
		lines = append(lines, delimiter)
		lines = append(lines, entries...)
		lines = append(lines, delimiter)
	}
	if len(lines) == 0 {
		return []byte{}
	}
	return []byte(strings.Join(lines, "\n") + "\n")
}

// FormatEntries maps each host onto "<address> <host>", in order.
// An empty address leaves the host line as supplied.
func FormatEntries(address string, hosts []string) []string {
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if address == "" {
			out = append(out, h)
			continue
		}
		out = append(out, address+" "+h)
	}
	return out
}

// splitLines splits on "\n" dropping the empty element left by a trailing newline.
func splitLines(s string) []string {
	if s == "" {
		return []string{}
	}
	lines := strings.Split(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
