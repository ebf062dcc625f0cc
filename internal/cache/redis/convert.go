package redis

import "strconv"

// parseInt converts a Redis hash field to int64, treating missing or
// malformed values as zero.
func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// parseFloat converts a Redis hash field to float64, treating missing or
// malformed values as zero.
func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
