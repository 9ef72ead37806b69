package logger

import (
	"strconv"
	"strings"
	"sync/atomic"
)

// ratioSampler lets numerator out of every denominator events through. A zero
// ratio disables sampling and lets everything through.
type ratioSampler struct {
	ratio   atomic.Pointer[[2]uint64]
	counter atomic.Uint64
}

func newRatioSampler(numerator, denominator int) *ratioSampler {
	s := &ratioSampler{}
	s.Set(numerator, denominator)
	return s
}

// Set configures the sampling ratio using numerator/denominator.
func (s *ratioSampler) Set(numerator, denominator int) {
	s.counter.Store(0)
	if numerator <= 0 || denominator <= 0 {
		s.ratio.Store(nil)
		return
	}
	if numerator > denominator {
		numerator = denominator
	}
	s.ratio.Store(&[2]uint64{uint64(numerator), uint64(denominator)})
}

// Allow reports whether the current event should pass sampling.
func (s *ratioSampler) Allow() bool {
	r := s.ratio.Load()
	if r == nil {
		return true
	}
	n := (s.counter.Add(1) - 1) % r[1]
	return n < r[0]
}

// parseRatioSpec accepts "N/D", "N" (one in N) and "P%".
func parseRatioSpec(spec string) (int, int) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return 0, 0
	}
	if pct, ok := strings.CutSuffix(spec, "%"); ok {
		v, err := strconv.Atoi(strings.TrimSpace(pct))
		if err != nil || v <= 0 {
			return 0, 0
		}
		return min(v, 100), 100
	}
	if num, den, ok := strings.Cut(spec, "/"); ok {
		n, err1 := strconv.Atoi(strings.TrimSpace(num))
		d, err2 := strconv.Atoi(strings.TrimSpace(den))
		if err1 == nil && err2 == nil {
			return n, d
		}
		return 0, 0
	}
	if v, err := strconv.Atoi(spec); err == nil {
		if v <= 0 {
			return 0, 0
		}
		return 1, v
	}
	return 0, 0
}
