// Package sqlutil has utilities for building the repetitive parts of MySQL
// statements, e.g. the placeholder groups of a bulk INSERT.
package sqlutil

import (
	"strings"
)

// ValuesPlaceholders returns a set of SQL placeholders grouped for use in an
// INSERT statement. For example, ValuesPlaceholders(2, 3) returns
// (?,?),(?,?),(?,?). It panics if either param is <= 0.
func ValuesPlaceholders(valuesPerRow, numRows int) string {
	if valuesPerRow <= 0 || numRows <= 0 {
		panic("Cannot make ValuesPlaceholders with 0 rows or 0 values per row")
	}
	values := strings.Builder{}
	values.Grow(2*valuesPerRow*numRows + 2*numRows)
	row := "(" + strings.TrimSuffix(strings.Repeat("?,", valuesPerRow), ",") + ")"
	for i := 0; i < numRows; i++ {
		if i != 0 {
			_, _ = values.WriteString(",")
		}
		_, _ = values.WriteString(row)
	}
	return values.String()
}

// InPlaceholders returns n comma-separated placeholders for use inside an
// IN (...) clause. It panics if n <= 0.
func InPlaceholders(n int) string {
	if n <= 0 {
		panic("Cannot make InPlaceholders with 0 values")
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
