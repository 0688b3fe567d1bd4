package imaging

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"slices"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrFilterBand  = errors.New("band-pass cutoffs must satisfy 0 < low < high < Nyquist")
	ErrFilterOrder = errors.New("filter order must be positive")
	ErrShortSignal = errors.New("signal too short for zero-phase filtering")
)

// Filter is a digital IIR filter in transfer-function form with A[0] == 1.
type Filter struct {
	B []float64
	A []float64
}

// Bandpass designs a Butterworth band-pass of the given order between low
// and high Hz for a signal sampled at rate Hz. The analog prototype is
// pre-warped and mapped with the bilinear transform, so the coefficients
// match the usual digital butter design.
func Bandpass(order int, low, high, rate float64) (Filter, error) {
	if order < 1 {
		return Filter{}, fmt.Errorf("%w: %d", ErrFilterOrder, order)
	}
	nyq := rate / 2
	if !(low > 0 && low < high && high < nyq) {
		return Filter{}, fmt.Errorf("%w: [%g, %g] Hz at %g Hz", ErrFilterBand, low, high, rate)
	}
	// the bilinear transform below runs at a normalised rate of 2
	const fs2 = 4.0
	w1 := fs2 * math.Tan(math.Pi*low/nyq/2)
	w2 := fs2 * math.Tan(math.Pi*high/nyq/2)
	bw, wo := w2-w1, math.Sqrt(w1*w2)

	// low-pass prototype poles on the left half of the unit circle, scaled
	// to the bandwidth and split around the centre frequency
	proto := make([]complex128, 0, order)
	for m := -order + 1; m < order; m += 2 {
		p := -cmplx.Exp(complex(0, math.Pi*float64(m)/float64(2*order)))
		proto = append(proto, p*complex(bw/2, 0))
	}
	poles := make([]complex128, 0, 2*order)
	for _, p := range proto {
		poles = append(poles, p+cmplx.Sqrt(p*p-complex(wo*wo, 0)))
	}
	for _, p := range proto {
		poles = append(poles, p-cmplx.Sqrt(p*p-complex(wo*wo, 0)))
	}

	// order analog zeros at 0 map to 1, the excess degree goes to -1
	zeros := make([]complex128, 0, 2*order)
	gain := complex(math.Pow(bw, float64(order)), 0)
	for range order {
		zeros = append(zeros, 1)
		gain *= fs2
	}
	for range order {
		zeros = append(zeros, -1)
	}
	zpoles := make([]complex128, len(poles))
	for i, p := range poles {
		zpoles[i] = (fs2 + p) / (fs2 - p)
		gain /= fs2 - p
	}

	k := real(gain)
	b := poly(zeros)
	for i := range b {
		b[i] *= k
	}
	return Filter{B: b, A: poly(zpoles)}, nil
}

// poly expands the monic polynomial with the given roots, highest power
// first, keeping the real parts.
func poly(roots []complex128) []float64 {
	c := []complex128{1}
	for _, r := range roots {
		next := make([]complex128, len(c)+1)
		next[0] = c[0]
		for i := 1; i < len(c); i++ {
			next[i] = c[i] - r*c[i-1]
		}
		next[len(c)] = -r * c[len(c)-1]
		c = next
	}
	out := make([]float64, len(c))
	for i, v := range c {
		out[i] = real(v)
	}
	return out
}

// Response returns the complex gain at w radians per sample.
func (f Filter) Response(w float64) complex128 {
	e := cmplx.Exp(complex(0, -w))
	var num, den complex128
	zk := complex(1, 0)
	for i := range max(len(f.B), len(f.A)) {
		if i < len(f.B) {
			num += complex(f.B[i], 0) * zk
		}
		if i < len(f.A) {
			den += complex(f.A[i], 0) * zk
		}
		zk *= e
	}
	return num / den
}

// FiltFilt runs the filter forward and backward for zero phase. Both ends
// are padded by odd reflection of three times the filter length, and each
// pass starts from the steady state of its first sample.
func (f Filter) FiltFilt(x []float64) ([]float64, error) {
	pad := 3 * max(len(f.A), len(f.B))
	if len(x) <= pad {
		return nil, fmt.Errorf("%w: %d samples, need more than %d", ErrShortSignal, len(x), pad)
	}
	b, a := f.coefficients()
	zi, err := steadyState(b, a)
	if err != nil {
		return nil, err
	}

	n := len(x)
	ext := make([]float64, 0, n+2*pad)
	for i := pad; i > 0; i-- {
		ext = append(ext, 2*x[0]-x[i])
	}
	ext = append(ext, x...)
	for i := range pad {
		ext = append(ext, 2*x[n-1]-x[n-2-i])
	}

	y := lfilter(b, a, ext, scaled(zi, ext[0]))
	slices.Reverse(y)
	y = lfilter(b, a, y, scaled(zi, y[0]))
	slices.Reverse(y)
	return y[pad : pad+n], nil
}

// coefficients pads B and A to a common length and normalises A[0].
func (f Filter) coefficients() ([]float64, []float64) {
	n := max(len(f.A), len(f.B))
	b := make([]float64, n)
	a := make([]float64, n)
	copy(b, f.B)
	copy(a, f.A)
	for i := range n {
		b[i] /= f.A[0]
		a[i] /= f.A[0]
	}
	return b, a
}

// lfilter is direct form II transposed starting from state zi.
func lfilter(b, a, x, zi []float64) []float64 {
	n := len(a)
	z := slices.Clone(zi)
	y := make([]float64, len(x))
	for k, xk := range x {
		yk := b[0] * xk
		if n > 1 {
			yk += z[0]
			for i := 0; i < n-2; i++ {
				z[i] = b[i+1]*xk + z[i+1] - a[i+1]*yk
			}
			z[n-2] = b[n-1]*xk - a[n-1]*yk
		}
		y[k] = yk
	}
	return y
}

// steadyState solves (I - companion(a)^T) zi = b[1:] - a[1:]*b[0], the state
// under which a unit step passes without a transient.
func steadyState(b, a []float64) ([]float64, error) {
	m := len(a) - 1
	if m == 0 {
		return nil, nil
	}
	lhs := mat.NewDense(m, m, nil)
	rhs := mat.NewVecDense(m, nil)
	for j := range m {
		lhs.Set(j, 0, lhs.At(j, 0)+a[j+1])
		lhs.Set(j, j, lhs.At(j, j)+1)
		if j+1 < m {
			lhs.Set(j, j+1, -1)
		}
		rhs.SetVec(j, b[j+1]-a[j+1]*b[0])
	}
	var zi mat.VecDense
	if err := zi.SolveVec(lhs, rhs); err != nil {
		return nil, fmt.Errorf("filter steady state: %w", err)
	}
	out := make([]float64, m)
	for i := range out {
		out[i] = zi.AtVec(i)
	}
	return out, nil
}

func scaled(v []float64, s float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x * s
	}
	return out
}
