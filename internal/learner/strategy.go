package learner

import (
	"fmt"
	"strings"
)

// Strategy identifies how a threshold candidate was derived.
type Strategy int

const (
	StrategyPercentile Strategy = iota
	StrategySigma
	StrategyIQR
	// StrategyAdaptive is reserved; no candidate produces it yet.
	StrategyAdaptive
)

var strategyNames = [...]string{
	StrategyPercentile: "percentile",
	StrategySigma:      "sigma",
	StrategyIQR:        "iqr",
	StrategyAdaptive:   "adaptive",
}

func (s Strategy) String() string {
	if s < 0 || int(s) >= len(strategyNames) {
		return fmt.Sprintf("strategy(%d)", int(s))
	}
	return strategyNames[s]
}

func (s Strategy) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(strategyNames) {
		return nil, fmt.Errorf("learner: unknown strategy %d", int(s))
	}
	return []byte(strategyNames[s]), nil
}

func (s *Strategy) UnmarshalText(b []byte) error {
	name := strings.ToLower(string(b))
	for i, n := range strategyNames {
		if n == name {
			*s = Strategy(i)
			return nil
		}
	}
	return fmt.Errorf("learner: unknown strategy %q", string(b))
}

// candidate is one strategy's proposal with its prior confidence.
type candidate struct {
	strategy   Strategy
	value      float64
	confidence float64
}

func candidates(st Statistics) []candidate {
	return []candidate{
		{strategy: StrategyPercentile, value: st.P95, confidence: 0.85},
		{strategy: StrategySigma, value: st.Mean + 2*st.StdDev, confidence: 0.80},
		{strategy: StrategyIQR, value: st.P75 + 1.5*(st.P75-st.P25), confidence: 0.75},
	}
}

// best returns the candidate with the highest confidence; the earliest wins
// ties. cs must not be empty.
func best(cs []candidate) candidate {
	top := cs[0]
	for _, c := range cs[1:] {
		if c.confidence > top.confidence {
			top = c
		}
	}
	return top
}
