package model

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/landcover/internal/geo"
)

// Class is a land-cover category code. The codes are stable: they are the
// values written into classified rasters.
type Class int

const (
	ClassUrban      Class = 0
	ClassBarren     Class = 1
	ClassWater      Class = 2
	ClassVegetation Class = 3
)

// Classes lists every class in merge order.
var Classes = []Class{ClassUrban, ClassBarren, ClassWater, ClassVegetation}

var classNames = map[Class]string{
	ClassUrban:      "urban",
	ClassBarren:     "barren",
	ClassWater:      "water",
	ClassVegetation: "vegetation",
}

// Palette gives the display colour of each class.
var Palette = map[Class]string{
	ClassUrban:      "gray",
	ClassBarren:     "brown",
	ClassWater:      "blue",
	ClassVegetation: "green",
}

func (c Class) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return "class" + strconv.Itoa(int(c))
}

// Valid reports whether c is one of the four known codes.
func (c Class) Valid() bool {
	_, ok := classNames[c]
	return ok
}

// ParseClass accepts a class name or its numeric code.
func ParseClass(s string) (Class, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for c, name := range classNames {
		if s == name {
			return c, nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && Class(n).Valid() {
		return Class(n), nil
	}
	return 0, eris.Errorf("model: unknown land-cover class %q", s)
}

// LabeledSample is a reference geometry tagged with its land-cover class.
// Random is the split draw assigned by the sampler.
type LabeledSample struct {
	ID       string       `json:"id"`
	Class    Class        `json:"landcover"`
	Geometry geo.Geometry `json:"-"`
	Random   float64      `json:"random"`
}

// Region is a named polygon boundary used for export.
type Region struct {
	Name     string       `json:"name"`
	Geometry geo.Geometry `json:"-"`
}
