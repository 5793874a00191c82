package calibration

import (
	"fmt"
	"strings"
)

// Variable names one of the four fitted response surfaces.
type Variable int

const (
	Alpha Variable = iota
	Beta
	QOverDp0
	MinusSOverDp0
)

// Variables lists the response surfaces in artifact order.
var Variables = []Variable{Alpha, Beta, QOverDp0, MinusSOverDp0}

var variableNames = map[Variable]string{
	Alpha:         "alpha",
	Beta:          "beta",
	QOverDp0:      "q_over_dp0",
	MinusSOverDp0: "minus_s_over_dp0",
}

var variableComments = map[Variable]string{
	Alpha:         "Alpha as a function of (dpa/dp0, dpb/dp0)",
	Beta:          "Beta as a function of (dpa/dp0, dpb/dp0)",
	QOverDp0:      "q/dp0 as a function of (dpa/dp0, dpb/dp0)",
	MinusSOverDp0: "-s/dp0 as a function of (dpa/dp0, dpb/dp0)",
}

func (v Variable) String() string {
	if name, ok := variableNames[v]; ok {
		return name
	}
	return fmt.Sprintf("variable(%d)", int(v))
}

// Comment is the human-readable identifier written above each surface.
func (v Variable) Comment() string {
	return variableComments[v]
}

// ParseVariable resolves a surface name such as "q_over_dp0".
func ParseVariable(s string) (Variable, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, v := range Variables {
		if variableNames[v] == s {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unknown response variable %q", s)
}
