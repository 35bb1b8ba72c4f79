// Package decimate decides how much slower than the digital lines the
// analog channels have to be sampled.
package decimate

import (
	"fmt"

	"github.com/itohio/jlsump/pkg/capture"
)

// DefaultADCRateLimit is the aggregate conversion rate of the analog front
// end across all enabled channels, in samples per second.
const DefaultADCRateLimit = 200_000

// Plan is the decimation derived from a sample rate and channel count.
type Plan struct {
	Factor            int    // analog is read every Factor-th sample, >= 1
	AnalogPeriodTicks int    // sampler ticks between analog reads
	DigitalRate       uint32 // always the requested rate
	AnalogRate        uint32 // effective analog reads per second, 0 without analog
	Required          int    // factor the rate limit asks for before clamping
	Clamped           bool   // the geometry capped Factor below Required
}

// Decimated reports whether analog runs slower than digital.
func (p Plan) Decimated() bool { return p.Factor > 1 }

func (p Plan) String() string {
	s := fmt.Sprintf("factor=%d digital=%dHz analog=%dHz", p.Factor, p.DigitalRate, p.AnalogRate)
	if p.Clamped {
		s += fmt.Sprintf(" (clamped from %d)", p.Required)
	}
	return s
}

// Planner computes decimation plans for a capture geometry.
type Planner struct {
	Limit    uint32
	Geometry capture.Geometry
}

// NewPlanner creates a planner; a zero limit selects DefaultADCRateLimit.
func NewPlanner(limit uint32, g capture.Geometry) Planner {
	if limit == 0 {
		limit = DefaultADCRateLimit
	}
	return Planner{Limit: limit, Geometry: g}
}

// Plan returns the decimation for rate samples/s with analogCount analog
// channels enabled. The threshold is the fixed aggregate limit and does
// not scale with the channel count; the factor is capped by what the
// buffer geometry can use.
func (p Planner) Plan(rate uint32, analogCount int) Plan {
	plan := Plan{
		Factor:            1,
		AnalogPeriodTicks: 1,
		DigitalRate:       rate,
		Required:          1,
	}
	if analogCount <= 0 {
		return plan
	}

	limit := p.Limit
	if limit == 0 {
		limit = DefaultADCRateLimit
	}
	if rate > limit {
		plan.Required = int((uint64(rate) + uint64(limit) - 1) / uint64(limit))
	}

	plan.Factor = plan.Required
	if max := p.Geometry.MaxFactor(analogCount); plan.Factor > max {
		plan.Factor = max
		plan.Clamped = true
	}
	plan.AnalogPeriodTicks = plan.Factor
	plan.AnalogRate = rate / uint32(plan.Factor)
	return plan
}
