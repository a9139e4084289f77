package poitools

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Bands is the fixed Sentinel-2 roster sampled for every slice. Sampled
// values are always reported in this order.
var Bands = []string{
	"B02",
	"B03",
	"B04",
	"B05",
	"B06",
	"B07",
	"B08A",
	"B08",
	"B11",
	"B12",
}

var bandCode = regexp.MustCompile(`^B0?(\d{1,2})(A?)$`)

// BandIndex returns the roster position of a band code, or -1.
func BandIndex(code string) int {
	for i, b := range Bands {
		if b == code {
			return i
		}
	}
	return -1
}

// ParseBandCode extracts the band code from a band file name such as
// S2A_20180102_T31TGL_B8A.tif (B08A). Mask layers and other files report false.
func ParseBandCode(filename string) (string, bool) {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	parts := strings.Split(base, "_")
	m := bandCode.FindStringSubmatch(strings.ToUpper(parts[len(parts)-1]))
	if m == nil {
		return "", false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("B%02d%s", n, m[2]), true
}
