package sequence

import "fmt"

// Format renders an invoice number as YYYY-NNNN with the numeric part
// zero-padded to at least four digits. Numbers past 9999 widen naturally.
func Format(year int, number int64) string {
	return fmt.Sprintf("%04d-%04d", year, number)
}
