// Package optimizer finds, for a target token, the trade vector across a
// set of curves that extracts the most of the target while every other
// token nets to zero.
//
// All strategies work on a price vector: each non-target token gets a
// price in target units and every curve is traded to the implied marginal
// price. The strategies differ in how they search for the vector that
// clears all non-target flows.
package optimizer

import (
	"errors"
	"log/slog"
	"time"

	"github.com/atmx/curve-optimizer/internal/container"
)

var (
	ErrUnsupportedFamily = errors.New("optimizer: unsupported curve family")
	ErrUnknownToken      = errors.New("optimizer: target token not in curve set")
	ErrNotAPair          = errors.New("optimizer: curve set must span exactly two tokens")
	ErrEmpty             = errors.New("optimizer: empty curve set")
)

// Optimizer is one optimization strategy. Structural problems with the
// input are returned as errors; numerical non-convergence is reported on
// the Result so batch callers can carry on.
type Optimizer interface {
	Name() string
	Optimize(c *container.Container, target string) (*Result, error)
}

// Scale holds the unit scale of each token, used to condition flows that
// differ by orders of magnitude between tokens. Missing tokens (and the
// nil Scale) have scale 1.
type Scale map[string]float64

// Of returns the scale of tkn.
func (s Scale) Of(tkn string) float64 {
	if v, ok := s[tkn]; ok && v > 0 {
		return v
	}
	return 1
}

// Default settings.
const (
	DefaultTolerance        = 1e-6
	DefaultReserveTolerance = 1e-12
	DefaultMaxIterations    = 50
	DefaultJacobianStep     = 1e-5
	DefaultMaxLogStep       = 2.0
)

// Config tunes the numerical strategies. The zero value is usable.
type Config struct {
	// Tolerance is the largest scaled net flow of a non-target token that
	// still counts as cleared.
	Tolerance float64
	// ReserveTolerance adds a tolerance relative to the reserves of each
	// token, which keeps large pools from failing on float rounding.
	ReserveTolerance float64
	MaxIterations    int
	// JacobianStep is the finite-difference step in log-price.
	JacobianStep float64
	// MaxLogStep caps a single Newton step in log-price.
	MaxLogStep float64
	Scale      Scale
	// StartPrices seeds the search with explicit prices in target units.
	// Tokens left out are seeded from the container's price estimate.
	StartPrices map[string]float64
	Logger      *slog.Logger
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if !(c.Tolerance > 0) {
		c.Tolerance = DefaultTolerance
	}
	if !(c.ReserveTolerance > 0) {
		c.ReserveTolerance = DefaultReserveTolerance
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if !(c.JacobianStep > 0) {
		c.JacobianStep = DefaultJacobianStep
	}
	if !(c.MaxLogStep > 0) {
		c.MaxLogStep = DefaultMaxLogStep
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Status is the terminal state of one optimizer run.
type Status int

const (
	// StatusConverged means every non-target flow is within tolerance.
	StatusConverged Status = iota
	// StatusStalled means the search stopped on a flat or singular region
	// with flows outside tolerance, typically between disjoint ranges.
	StatusStalled
	// StatusDiverged means the iteration cap was hit or values stopped
	// being finite.
	StatusDiverged
)

var statusNames = [...]string{"converged", "stalled", "diverged"}

func (s Status) String() string {
	if int(s) >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if name == string(b) {
			*s = Status(i)
			return nil
		}
	}
	return errors.New("optimizer: unknown status " + string(b))
}

// stopwatch returns a func reporting the time since it was created.
func stopwatch() func() time.Duration {
	start := time.Now()
	return func() time.Duration { return time.Since(start) }
}
