package rules

import "strings"

type gradeScale int

const (
	scaleWAEC gradeScale = iota + 1
	scaleLetter
)

type gradeRank struct {
	scale gradeScale
	rank  int
}

// gradeRanks orders grades within their scale; a higher rank is better.
// Grades from different scales are not comparable.
var gradeRanks = map[string]gradeRank{
	"A1": {scaleWAEC, 9},
	"B2": {scaleWAEC, 8},
	"B3": {scaleWAEC, 7},
	"C4": {scaleWAEC, 6},
	"C5": {scaleWAEC, 5},
	"C6": {scaleWAEC, 4},
	"D7": {scaleWAEC, 3},
	"E8": {scaleWAEC, 2},
	"F9": {scaleWAEC, 1},

	"A": {scaleLetter, 6},
	"B": {scaleLetter, 5},
	"C": {scaleLetter, 4},
	"D": {scaleLetter, 3},
	"E": {scaleLetter, 2},
	"F": {scaleLetter, 1},
}

func lookupGrade(g string) (gradeRank, bool) {
	r, ok := gradeRanks[strings.ToUpper(strings.TrimSpace(g))]
	return r, ok
}

// KnownGrade reports whether g appears in the grade table.
func KnownGrade(g string) bool {
	_, ok := lookupGrade(g)
	return ok
}
