package metrics

import "sort"

// ExitCodeBucket is the number of failed runs that ended with one exit code.
type ExitCodeBucket struct {
	ExitCode int
	Count    int
}

// FlattenExitCodes converts an exit code -> count map into rows sorted by
// descending count, then by exit code for stability.
func FlattenExitCodes(codes map[int]int) []ExitCodeBucket {
	if len(codes) == 0 {
		return nil
	}
	rows := make([]ExitCodeBucket, 0, len(codes))
	for code, count := range codes {
		rows = append(rows, ExitCodeBucket{ExitCode: code, Count: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			return rows[i].ExitCode < rows[j].ExitCode
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}
