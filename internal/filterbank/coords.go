package filterbank

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// EncodeRA converts "hh:mm:ss.s" to sigproc's hhmmss.s form
func EncodeRA(ra string) (float64, error) {
	h, m, s, err := sexagesimal(ra)
	if err != nil {
		return 0, fmt.Errorf("right ascension %q: %w", ra, err)
	}
	return h*10000 + m*100 + s, nil
}

// EncodeDec converts "[+-]dd:mm:ss.s" to sigproc's signed ddmmss.s form. The
// sign is taken from the text so that declinations between -1 and 0 degrees
// keep it.
func EncodeDec(dec string) (float64, error) {
	d, m, s, err := sexagesimal(dec)
	if err != nil {
		return 0, fmt.Errorf("declination %q: %w", dec, err)
	}
	sign := 1.0
	if strings.HasPrefix(strings.TrimSpace(dec), "-") {
		sign = -1.0
	}
	return sign * (math.Abs(d)*10000 + m*100 + s), nil
}

func sexagesimal(v string) (a, b, c float64, err error) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("expected three colon-separated fields")
	}
	var out [3]float64
	for i, p := range parts {
		if out[i], err = strconv.ParseFloat(p, 64); err != nil {
			return 0, 0, 0, err
		}
	}
	return out[0], out[1], out[2], nil
}
