package extractor

import (
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// normalizePath strips a leading "$." and maps a bare "$" to gjson's @this.
func normalizePath(path string) string {
	if len(path) > 0 && path[0] == '$' {
		if len(path) > 1 && path[1] == '.' {
			path = path[2:]
		} else if len(path) == 1 {
			path = "@this"
		}
	}
	return path
}

func countJSONPath(body []byte, path string, logger *zap.Logger) int {
	if !gjson.ValidBytes(body) {
		logger.Debug("response body is not valid JSON", zap.String("path", path))
		return 0
	}

	result := gjson.GetBytes(body, path)
	if !result.Exists() {
		logger.Debug("records path not found", zap.String("path", path))
		return 0
	}
	if result.IsArray() {
		return len(result.Array())
	}
	return 1
}
