// Package utils holds small formatting helpers shared by the CLI.
package utils

import "fmt"

const (
	KiB int64 = 1024
	MiB       = 1024 * KiB
	GiB       = 1024 * MiB
)

var sizeUnits = []string{"B", "KiB", "MiB", "GiB", "TiB"}

// FormatSize renders a byte count with a binary unit, dropping trailing
// zero decimals: 1536 -> "1.5 KiB", 2097152 -> "2 MiB".
func FormatSize(bytes int64) string {
	if bytes < 0 {
		return "invalid"
	}
	if bytes < KiB {
		return fmt.Sprintf("%d B", bytes)
	}

	value := float64(bytes)
	exp := 0
	for value >= 1024 && exp < len(sizeUnits)-1 {
		value /= 1024
		exp++
	}

	switch {
	case value == float64(int64(value)):
		return fmt.Sprintf("%.0f %s", value, sizeUnits[exp])
	case value*10 == float64(int64(value*10)):
		return fmt.Sprintf("%.1f %s", value, sizeUnits[exp])
	}
	return fmt.Sprintf("%.2f %s", value, sizeUnits[exp])
}
