// Package extractor counts records in successful response bodies using a
// gjson path, so a run can report how much data the upstream returned.
package extractor

import (
	"strings"

	"go.uber.org/zap"
)

// Counter evaluates one path against every body it is given. A nil or
// pathless Counter counts nothing.
type Counter struct {
	path   string
	logger *zap.Logger
}

// NewCounter returns a Counter for path. Both "$.items" and "items" are accepted;
// "$" alone means the whole document.
func NewCounter(path string, logger *zap.Logger) *Counter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Counter{path: normalizePath(strings.TrimSpace(path)), logger: logger}
}

// Enabled reports whether a path is configured.
func (c *Counter) Enabled() bool {
	return c != nil && c.path != ""
}

// Count returns the number of records at the path: the length of an array,
// 1 for any other existing value and 0 when the path is missing.
func (c *Counter) Count(body []byte) int {
	if !c.Enabled() {
		return 0
	}
	return countJSONPath(body, c.path, c.logger)
}
