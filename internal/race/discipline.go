package race

import (
	"fmt"
	"strings"
)

// Discipline selects which race types a run keeps.
type Discipline string

const (
	DisciplineAll   Discipline = ""
	DisciplineFlat  Discipline = "flat"
	DisciplineJumps Discipline = "jumps"
)

// Race types as they appear in the type column.
const (
	TypeFlat   = "Flat"
	TypeChase  = "Chase"
	TypeHurdle = "Hurdle"
	TypeNHFlat = "NH Flat"
)

var jumpTypes = map[string]struct{}{
	TypeChase:  {},
	TypeHurdle: {},
	TypeNHFlat: {},
}

// ParseDiscipline accepts flat, jumps, or all/empty.
func ParseDiscipline(s string) (Discipline, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return DisciplineAll, nil
	case "flat":
		return DisciplineFlat, nil
	case "jumps":
		return DisciplineJumps, nil
	default:
		return "", fmt.Errorf("unknown race type %q (want flat or jumps)", s)
	}
}

// Accepts reports whether a race of the given type belongs to d.
func (d Discipline) Accepts(raceType string) bool {
	switch d {
	case DisciplineFlat:
		return raceType == TypeFlat
	case DisciplineJumps:
		_, ok := jumpTypes[raceType]
		return ok
	default:
		return true
	}
}

// Dir is the output directory segment for d.
func (d Discipline) Dir() string {
	if d == DisciplineAll {
		return "all"
	}
	return string(d)
}

func (d Discipline) String() string {
	return d.Dir()
}
