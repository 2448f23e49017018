package sampling

import "gonum.org/v1/gonum/floats"

// EWMA folds x into an exponentially weighted average. A nil prev means no
// history, in which case x seeds the average unchanged.
func EWMA(prev *float64, x, alpha float64) float64 {
	if prev == nil {
		return x
	}
	return alpha*x + (1-alpha)*(*prev)
}

// Smoother maintains an element-wise EWMA over fixed-length vectors.
type Smoother struct {
	alpha float64
	avg   []float64
	n     int
}

// NewSmoother returns a Smoother over vectors of length dim.
func NewSmoother(dim int, alpha float64) *Smoother {
	return &Smoother{alpha: alpha, avg: make([]float64, dim)}
}

// Add folds x into the average. x must have the Smoother's length.
func (s *Smoother) Add(x []float64) {
	if s.n == 0 {
		copy(s.avg, x)
	} else {
		floats.Scale(1-s.alpha, s.avg)
		floats.AddScaled(s.avg, s.alpha, x)
	}
	s.n++
}

// Value returns a copy of the current average.
func (s *Smoother) Value() []float64 {
	out := make([]float64, len(s.avg))
	copy(out, s.avg)
	return out
}

// Count returns how many vectors were folded.
func (s *Smoother) Count() int { return s.n }
