package runner

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ArrivalModel selects how paced executors space their calls.
type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

// Observer receives every completed call as it happens. Implementations must be
// safe for concurrent use.
type Observer interface {
	Observe(benchmark string, latency time.Duration, err error)
}

// Options configure executors and units.
type Options struct {
	RatePerSecond  float64                        // per-executor pacing (0 means unpaced)
	ArrivalModel   ArrivalModel                   // pacing model when RatePerSecond > 0
	RandomSeed     int64                          // seed for Poisson pacing
	PoissonSampler func() float64                 // optional injection for tests
	LimiterFactory func(rps float64) *rate.Limiter // optional injection for tests
	Observer       Observer                       // live call notifications (optional)
	Logger         *zap.Logger
}

func (o *Options) normalize() {
	if o.RatePerSecond < 0 {
		o.RatePerSecond = 0
	}
	if o.ArrivalModel == "" {
		o.ArrivalModel = ArrivalModelUniform
	}
	if o.RandomSeed == 0 {
		o.RandomSeed = time.Now().UnixNano()
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(rps float64) *rate.Limiter {
			// Burst of one keeps calls evenly spaced within a single executor.
			return rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

type multiObserver []Observer

func (m multiObserver) Observe(benchmark string, latency time.Duration, err error) {
	for _, o := range m {
		o.Observe(benchmark, latency, err)
	}
}

// Observers fans calls out to every non-nil observer.
func Observers(observers ...Observer) Observer {
	var active multiObserver
	for _, o := range observers {
		if o != nil {
			active = append(active, o)
		}
	}
	switch len(active) {
	case 0:
		return nil
	case 1:
		return active[0]
	default:
		return active
	}
}
