package metrics

import (
	"sort"
	"strconv"
)

// StatusBucket is the number of responses seen with one HTTP status code.
type StatusBucket struct {
	Code  int
	Count int64
}

// SortedStatusBuckets converts a code->count map into rows sorted by
// descending count, then by code for stability. Unparsable codes are skipped.
func SortedStatusBuckets(codes map[string]int64) []StatusBucket {
	if len(codes) == 0 {
		return nil
	}
	rows := make([]StatusBucket, 0, len(codes))
	for raw, count := range codes {
		code, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		rows = append(rows, StatusBucket{Code: code, Count: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			return rows[i].Code < rows[j].Code
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}
