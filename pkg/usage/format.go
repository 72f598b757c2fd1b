package usage

import (
	"strconv"
	"strings"
)

// HumanTokens abbreviates a token count for the usage report,
// e.g. 151470 renders as 151.5K.
func HumanTokens(n int) string {
	switch {
	case n >= 1_000_000:
		return trimZero(float64(n)/1_000_000) + "M"
	case n >= 1_000:
		return trimZero(float64(n)/1_000) + "K"
	default:
		return strconv.Itoa(n)
	}
}

// GroupedInt renders a count with thousands separators for the
// per-channel usage table.
func GroupedInt(n int) string {
	s := strconv.Itoa(n)
	if len(s) <= 3 {
		return s
	}
	groups := make([]string, 0, len(s)/3+1)
	for len(s) > 3 {
		groups = append([]string{s[len(s)-3:]}, groups...)
		s = s[:len(s)-3]
	}
	groups = append([]string{s}, groups...)
	return strings.Join(groups, ",")
}

func trimZero(v float64) string {
	return strings.TrimSuffix(strconv.FormatFloat(v, 'f', 1, 64), ".0")
}
