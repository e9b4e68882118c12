// Package blocklist loads the ordered list of host names to block while the
// plug is on.
package blocklist

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"

	logpkg "github.com/haukened/plugwatch/internal/plugwatch/common/log"
	"github.com/haukened/plugwatch/internal/plugwatch/domain"
)

// FileSource reads a blocklist from a plain-text file.
type FileSource struct {
	Path   string
	Logger logpkg.Logger
}

// NewFileSource returns a FileSource for path.
func NewFileSource(path string, logger logpkg.Logger) *FileSource {
	return &FileSource{Path: path, Logger: logger}
}

// Load reads and parses the file. A missing or unreadable file wraps
// domain.ErrConfiguration.
func (s *FileSource) Load() ([]string, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: blocklist %s: %w", domain.ErrConfiguration, s.Path, err)
	}
	defer func() { _ = f.Close() }()

	entries, err := ParseList(f, s.Path, s.Logger)
	if err != nil {
		return nil, fmt.Errorf("%w: blocklist %s: %w", domain.ErrConfiguration, s.Path, err)
	}
	return entries, nil
}

// ParseList parses a newline-delimited list of host names.
//
// Behavior:
// - Trims surrounding whitespace and a leading BOM
// - Skips empty lines, whole-line '#' comments and inline " #" comments
// - Accepts hosts-file lines ("0.0.0.0 a.com b.com"): the address is dropped
//   and every name after it becomes an entry
// - Converts internationalized names to punycode; ASCII names pass through untouched
// - Keeps duplicates and the supplied order and case
func ParseList(r io.Reader, source string, logger logpkg.Logger) ([]string, error) {
	scanner := bufio.NewScanner(r)

	out := make([]string, 0, 64)
	logger.Debug(map[string]any{"source": source}, "parse_list_start")
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if lineNum == 1 {
			line = strings.TrimPrefix(line, "\uFEFF")
		}

		entry := strings.TrimSpace(line)
		if entry == "" {
			continue
		}
		if strings.HasPrefix(entry, "#") {
			logger.Debug(map[string]any{"line": lineNum}, "skip_comment")
			continue
		}

		for _, name := range lineNames(stripInlineComment(entry)) {
			out = append(out, toASCII(name, lineNum, logger))
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	logger.Debug(map[string]any{"source": source, "count": len(out)}, "parse_list_done")
	return out, nil
}

// stripInlineComment cuts a trailing comment introduced by whitespace and '#'.
func stripInlineComment(line string) string {
	for i := 1; i < len(line); i++ {
		if line[i] == '#' && (line[i-1] == ' ' || line[i-1] == '\t') {
			return strings.TrimSpace(line[:i])
		}
	}
	return line
}

// lineNames returns the names on a line. A line starting with an IP address
// is read as a hosts-file record; anything else is a single name.
func lineNames(line string) []string {
	fields := strings.Fields(line)
	if len(fields) >= 2 {
		if _, err := netip.ParseAddr(fields[0]); err == nil {
			return fields[1:]
		}
	}
	return []string{line}
}

// toASCII returns the punycode form of a non-ASCII name. Names that cannot be
// converted are returned as supplied.
func toASCII(entry string, lineNum int, logger logpkg.Logger) string {
	if isASCII(entry) {
		return entry
	}
	if !utf8.ValidString(entry) {
		logger.Warn(map[string]any{"line": lineNum, "entry": entry}, "blocklist entry is not valid UTF-8, keeping as is")
		return entry
	}
	ascii, err := idna.Punycode.ToASCII(entry)
	if err != nil {
		logger.Warn(map[string]any{"line": lineNum, "entry": entry, "error": err}, "cannot convert blocklist entry to ASCII, keeping as is")
		return entry
	}
	return ascii
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
