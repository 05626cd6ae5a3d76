package utils

// Percentage возвращает part/total*100. При total <= 0 возвращает 0.
func Percentage(part, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return part / total * 100
}

// PercentChange - относительное изменение current к base в процентах.
// При base == 0 возвращает 0.
func PercentChange(current, base float64) float64 {
	if base == 0 {
		return 0
	}
	return (current - base) / base * 100
}
