package race

import (
	"strconv"
	"strings"
)

var namedMargins = map[string]float64{
	"dht":    0,
	"nse":    0.05,
	"shd":    0.1,
	"sht-hd": 0.1,
	"hd":     0.2,
	"snk":    0.25,
	"sht-nk": 0.25,
	"nk":     0.3,
	"dist":   30,
}

var fractions = map[rune]float64{
	'¼': 0.25,
	'½': 0.5,
	'¾': 0.75,
}

// ParseLengths converts a beaten-by margin ("1½", "nk", "dist", "12") to lengths.
func ParseLengths(s string) (float64, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}
	if v, ok := namedMargins[s]; ok {
		return v, true
	}

	var whole strings.Builder
	var frac float64
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			if frac != 0 {
				return 0, false
			}
			whole.WriteRune(r)
		case fractions[r] != 0:
			if frac != 0 {
				return 0, false
			}
			frac = fractions[r]
		default:
			return 0, false
		}
	}
	total := frac
	if whole.Len() > 0 {
		n, err := strconv.Atoi(whole.String())
		if err != nil {
			return 0, false
		}
		total += float64(n)
	}
	return total, true
}

func formatLengths(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
