package statistics

import "fmt"

var hashUnits = []string{"H/s", "KH/s", "MH/s", "GH/s", "TH/s"}

// ScaleHashrate picks the largest unit keeping the value at or above 1.
func ScaleHashrate(hashes uint64) (float64, string) {
	value := float64(hashes)
	unit := 0
	for value >= 1000 && unit < len(hashUnits)-1 {
		value /= 1000
		unit++
	}
	return value, hashUnits[unit]
}

func FormatHashrate(hashes uint64) string {
	v, u := ScaleHashrate(hashes)
	return fmt.Sprintf("%.2f %s", v, u)
}
