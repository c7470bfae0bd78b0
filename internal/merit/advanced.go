package merit

import (
	"strings"

	"github.com/shopspring/decimal"
)

// waecPoints maps WAEC grades to points; grades outside the table are skipped.
var waecPoints = map[string]int64{
	"A1": 8,
	"B2": 7,
	"B3": 6,
	"C4": 5,
	"C5": 4,
	"C6": 3,
	"D7": 2,
	"E8": 1,
	"F9": 0,
}

// ComputeAdvancedMeritIndex returns
//
//	0.6*(jamb/400*100) + 0.3*(avgPoints/8*100) + 0.1*postUTME
//
// rounded half up to two decimal places. The sum is formed as one exact
// fraction so the only rounding is the final one.
func ComputeAdvancedMeritIndex(jamb int64, waecGrades []string, postUTME int64) decimal.Decimal {
	var sum, count int64
	for _, g := range waecGrades {
		if p, ok := waecPoints[strings.ToUpper(strings.TrimSpace(g))]; ok {
			sum += p
			count++
		}
	}
	if count == 0 {
		count = 1
	}
	// 0.15*jamb + 3.75*sum/count + 0.1*post == (15*jamb*count + 375*sum + 10*post*count) / (100*count)
	num := 15*jamb*count + 375*sum + 10*postUTME*count
	return decimal.NewFromInt(num).DivRound(decimal.NewFromInt(100*count), 2)
}

// ToFixed converts a two-decimal index to Scale.
func ToFixed(d decimal.Decimal) int64 {
	return d.Shift(4).Round(0).IntPart()
}
