package size

import (
	"fmt"
	"strconv"
	"strings"
)

var sizeUnits = []string{"", "K", "M", "G", "T", "P", "E", "Z", "Y"}

// HumanSize formats v such as "1.5 KB", "12 MB" or "130 GB".
func HumanSize(v Value) string {
	var x float64
	i := 0
	if v.peta > 0 {
		x = float64(v.peta) + float64(v.n)/float64(Petabyte)
		i = 5
	} else {
		x = float64(v.n)
	}
	for x >= 1024 && i+1 < len(sizeUnits) {
		i++
		x /= 1024
	}
	switch {
	case i == 0:
		return strconv.FormatUint(v.n, 10) + " B"
	case x < 10:
		s := strconv.FormatFloat(x, 'f', 1, 64)
		if s == "10.0" {
			s = "10"
		}
		return s + " " + sizeUnits[i] + "B"
	default:
		return strconv.FormatFloat(x, 'f', 0, 64) + " " + sizeUnits[i] + "B"
	}
}

// HumanOffset renders an offset unit by unit, e.g. "1M.512K.3".
func HumanOffset(v Value) string {
	var parts []string
	n := v.n
	i := 0
	for {
		mod := n % 1024
		if len(parts) > 0 || mod != 0 {
			parts = append(parts, fmt.Sprintf("%d%s", mod, sizeUnits[i]))
		}
		n /= 1024
		i++
		if n == 0 {
			break
		}
	}
	if v.peta > 0 {
		// pad empty sub-petabyte units so the petabyte parts line up
		for ; len(parts) > 0 && i < 5; i++ {
			parts = append(parts, "0"+sizeUnits[i])
		}
	}
	peta := v.peta
	for i = 5; peta > 0; i++ {
		if i == len(sizeUnits)-1 {
			parts = append(parts, fmt.Sprintf("%d%s", peta, sizeUnits[i]))
			break
		}
		parts = append(parts, fmt.Sprintf("%d%s", peta%1024, sizeUnits[i]))
		peta /= 1024
	}
	if len(parts) == 0 {
		return "0"
	}
	for l, r := 0, len(parts)-1; l < r; l, r = l+1, r-1 {
		parts[l], parts[r] = parts[r], parts[l]
	}
	return strings.Join(parts, ".")
}
