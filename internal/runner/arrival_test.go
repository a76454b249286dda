package runner

import (
	"context"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestPoissonArrivalNextDelayUsesSampler(t *testing.T) {
	ctrl := &poissonArrival{rate: 200, sample: func() float64 { return 1 }}
	delay := ctrl.nextDelay()
	expected := time.Second / 200
	if delay != expected {
		t.Fatalf("expected delay %s, got %s", expected, delay)
	}
}

func TestPoissonArrivalWaitCancelledContext(t *testing.T) {
	ctrl := &poissonArrival{rate: 0.000001, sample: func() float64 { return 1 }}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ctrl.Wait(ctx); err == nil {
		t.Fatalf("expected context error when cancelled")
	}
}

func TestNewArrivalControllerUnpaced(t *testing.T) {
	opt := Options{}
	opt.normalize()
	if ctrl := newArrivalController(opt, 0); ctrl != nil {
		t.Fatalf("expected nil controller without a rate, got %T", ctrl)
	}
}

func TestNewArrivalControllerModels(t *testing.T) {
	opt := Options{RatePerSecond: 50}
	opt.normalize()
	if _, ok := newArrivalController(opt, 0).(*uniformArrival); !ok {
		t.Error("expected uniform controller by default")
	}

	opt.ArrivalModel = ArrivalModelPoisson
	if _, ok := newArrivalController(opt, 3).(*poissonArrival); !ok {
		t.Error("expected poisson controller")
	}
}

func TestOptionsNormalize(t *testing.T) {
	opt := Options{RatePerSecond: -3}
	opt.normalize()
	if opt.RatePerSecond != 0 {
		t.Errorf("RatePerSecond = %v, want 0", opt.RatePerSecond)
	}
	if opt.ArrivalModel != ArrivalModelUniform {
		t.Errorf("ArrivalModel = %q, want %q", opt.ArrivalModel, ArrivalModelUniform)
	}
	if opt.RandomSeed == 0 {
		t.Error("RandomSeed should be non-zero")
	}
	if opt.LimiterFactory == nil || opt.Logger == nil {
		t.Error("LimiterFactory and Logger should be defaulted")
	}

	custom := func(rps float64) *rate.Limiter { return rate.NewLimiter(rate.Inf, 0) }
	opt = Options{RandomSeed: 42, LimiterFactory: custom, ArrivalModel: ArrivalModelPoisson}
	opt.normalize()
	if opt.RandomSeed != 42 || opt.ArrivalModel != ArrivalModelPoisson {
		t.Errorf("normalize overwrote valid values: %+v", opt)
	}
}
