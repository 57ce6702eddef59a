package sheets

import (
	"fmt"
	"strings"

	"guild-bridge/internal/sink"
)

// ColumnName converts a 0-based column index into its letter form:
// 0 -> A, 25 -> Z, 26 -> AA.
func ColumnName(col int) string {
	var b []byte
	for col >= 0 {
		b = append([]byte{byte('A' + col%26)}, b...)
		col = col/26 - 1
	}
	return string(b)
}

// QuoteTitle renders a worksheet title for use in A1 notation.
func QuoteTitle(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

// BlockRange returns the A1 range covering values written at r.
func BlockRange(title string, r sink.Range, values [][]any) string {
	width := 1
	for _, row := range values {
		width = max(width, len(row))
	}
	height := max(len(values), 1)

	start := fmt.Sprintf("%s%d", ColumnName(r.Col), r.Row)
	end := fmt.Sprintf("%s%d", ColumnName(r.Col+width-1), r.Row+height-1)
	if start == end {
		return QuoteTitle(title) + "!" + start
	}
	return QuoteTitle(title) + "!" + start + ":" + end
}
