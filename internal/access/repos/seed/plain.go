package seed

import (
	"bufio"
	"io"
	"strings"

	"github.com/haukened/gracegate/internal/access/common/log"
)

// ParsePlainList parses a newline-delimited list of rule inputs.
//
// Behavior:
//   - Whole-line comments start with '#'
//   - Inline comments start with " #" so URL fragments survive
//   - Surrounding whitespace and a leading BOM are trimmed
//   - Empty lines are skipped
//   - Duplicates are dropped, preserving first-seen order
func ParsePlainList(r io.Reader, source string, logger log.Logger) ([]string, error) {
	scanner := bufio.NewScanner(r)
	seen := make(map[string]struct{})
	out := make([]string, 0, 64)
	logger.Debug(map[string]any{"source": source}, "parse_plain_list_start")
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimPrefix(scanner.Text(), "\uFEFF")

		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if idx := strings.Index(trimmed, " #"); idx >= 0 {
			trimmed = strings.TrimSpace(trimmed[:idx])
		}
		if idx := strings.Index(trimmed, "\t#"); idx >= 0 {
			trimmed = strings.TrimSpace(trimmed[:idx])
		}
		if _, ok := seen[trimmed]; ok {
			logger.Debug(map[string]any{"line": lineNum, "input": trimmed}, "skip_duplicate")
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	if err := scanner.Err(); err != nil {
		logger.Debug(map[string]any{"source": source, "err": err}, "parse_plain_list_scan_error")
		return nil, err
	}
	logger.Debug(map[string]any{"source": source, "count": len(out)}, "parse_plain_list_done")
	return out, nil
}
