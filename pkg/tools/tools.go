package tools

func DivCeil(a, b uint64) uint64 {
	return (a + b - 1) / b
}

func MinInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
