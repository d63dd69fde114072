package regime

// Kalman1D is a scalar Kalman filter used for optional posterior smoothing
// of the HMM's belief state (§4.2).
type Kalman1D struct {
	q, r        float64
	x, p        float64
	initialized bool
}

// NewKalman1D builds a filter with process noise q and measurement noise r.
func NewKalman1D(q, r float64) *Kalman1D {
	return &Kalman1D{q: q, r: r}
}

// Update folds a new measurement z and returns the filtered state. The
// first call initializes x<-z, p<-1 rather than filtering.
func (k *Kalman1D) Update(z float64) float64 {
	if !k.initialized {
		k.x = z
		k.p = 1
		k.initialized = true
		return k.x
	}
	k.p += k.q
	gain := k.p / (k.p + k.r)
	k.x += gain * (z - k.x)
	k.p *= 1 - gain
	return k.x
}

// Reset clears initialization so the next Update re-seeds the filter.
func (k *Kalman1D) Reset() {
	k.initialized = false
	k.x = 0
	k.p = 0
}
