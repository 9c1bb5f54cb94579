package derived

import (
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	"github.com/xtxerr/biostream/internal/errors"
)

// Section is one second-order IIR section: B over A, with A[0] == 1.
type Section struct {
	B [3]float64
	A [3]float64
}

// gainAtDC returns the section's response at z = 1.
func (s Section) gainAtDC() float64 {
	den := s.A[0] + s.A[1] + s.A[2]
	if den == 0 {
		return 0
	}
	return (s.B[0] + s.B[1] + s.B[2]) / den
}

// Bandpass is a digital Butterworth band-pass filter in second-order
// sections.
type Bandpass struct {
	Sections []Section
	Low      float64
	High     float64
	Fs       float64
	Order    int
}

// DesignBandpass designs an order-N Butterworth band-pass filter with
// cutoffs low and high (Hz) at sampling rate fs via the analog prototype,
// low-pass to band-pass transform and bilinear transform. The result has N
// sections. Cutoffs must satisfy 0 < low < high < fs/2.
func DesignBandpass(order int, low, high, fs float64) (*Bandpass, error) {
	if order < 1 {
		return nil, fmt.Errorf("filter order %d: %w", order, errors.ErrInvalidConfig)
	}
	if !(fs > 0 && low > 0 && low < high && high < fs/2) {
		return nil, fmt.Errorf("band %.3g-%.3g Hz at fs %.3g Hz: want 0 < low < high < fs/2: %w",
			low, high, fs, errors.ErrInvalidConfig)
	}

	// Pre-warp the band edges for the bilinear transform.
	fs2 := 2 * fs
	wl := fs2 * math.Tan(math.Pi*low/fs)
	wh := fs2 * math.Tan(math.Pi*high/fs)
	bw := wh - wl
	w0sq := wl * wh

	// Analog prototype poles on the left half of the unit circle, each
	// mapped to two band-pass poles, then to the z-plane. The prototype has
	// order zeros at s=0 and order at infinity, giving the bilinear gain.
	poles := make([]complex128, 0, 2*order)
	g := complex(math.Pow(bw*fs2, float64(order)), 0)
	for k := 0; k < order; k++ {
		theta := math.Pi * float64(2*k+order+1) / float64(2*order)
		half := cmplx.Rect(1, theta) * complex(bw/2, 0)
		root := cmplx.Sqrt(half*half - complex(w0sq, 0))
		for _, s := range []complex128{half + root, half - root} {
			g /= complex(fs2, 0) - s
			poles = append(poles, (complex(fs2, 0)+s)/(complex(fs2, 0)-s))
		}
	}
	gain := real(g)

	pairs := pairPoles(poles)
	sections := make([]Section, len(pairs))
	for i, pr := range pairs {
		sections[i] = Section{
			B: [3]float64{1, 0, -1},
			A: [3]float64{1, -real(pr[0] + pr[1]), real(pr[0] * pr[1])},
		}
	}
	for i := range sections[0].B {
		sections[0].B[i] *= gain
	}

	return &Bandpass{Sections: sections, Low: low, High: high, Fs: fs, Order: order}, nil
}

// pairPoles groups poles into conjugate pairs; leftover real poles are
// paired with each other.
func pairPoles(poles []complex128) [][2]complex128 {
	const eps = 1e-10

	var upper, reals []complex128
	for _, p := range poles {
		switch {
		case imag(p) > eps:
			upper = append(upper, p)
		case math.Abs(imag(p)) <= eps:
			reals = append(reals, complex(real(p), 0))
		}
	}
	sort.Slice(reals, func(i, j int) bool { return real(reals[i]) < real(reals[j]) })

	pairs := make([][2]complex128, 0, len(poles)/2)
	for _, p := range upper {
		pairs = append(pairs, [2]complex128{p, cmplx.Conj(p)})
	}
	for i := 0; i+1 < len(reals); i += 2 {
		pairs = append(pairs, [2]complex128{reals[i], reals[i+1]})
	}
	return pairs
}

// padLen is the length of the odd extension applied by FiltFilt.
func (f *Bandpass) padLen() int {
	return 3 * (2*len(f.Sections) + 1)
}

// MinLength is the shortest input FiltFilt accepts.
func (f *Bandpass) MinLength() int {
	return f.padLen() + 1
}

// Response returns the magnitude response at frequency hz.
func (f *Bandpass) Response(hz float64) float64 {
	z := cmplx.Rect(1, -2*math.Pi*hz/f.Fs) // z^-1
	h := complex(1, 0)
	for _, s := range f.Sections {
		num := complex(s.B[0], 0) + complex(s.B[1], 0)*z + complex(s.B[2], 0)*z*z
		den := complex(s.A[0], 0) + complex(s.A[1], 0)*z + complex(s.A[2], 0)*z*z
		h *= num / den
	}
	return cmplx.Abs(h)
}

// state is the transposed direct form II state of each section.
type state [][2]float64

// steadyState returns the per-section state of the filter after a long run
// of unit input.
func (f *Bandpass) steadyState() state {
	zi := make(state, len(f.Sections))
	scale := 1.0
	for i, s := range f.Sections {
		y := s.gainAtDC()
		zi[i][0] = scale * (y - s.B[0])
		zi[i][1] = scale * (s.B[2] - s.A[2]*y)
		scale *= y
	}
	return zi
}

// filter runs x through the cascade with initial state zi scaled by x0,
// writing into out.
func (f *Bandpass) filter(out, x []float64, zi state, x0 float64) {
	z := make(state, len(zi))
	for i := range zi {
		z[i] = [2]float64{zi[i][0] * x0, zi[i][1] * x0}
	}
	for n, v := range x {
		for i, s := range f.Sections {
			y := s.B[0]*v + z[i][0]
			z[i][0] = s.B[1]*v - s.A[1]*y + z[i][1]
			z[i][1] = s.B[2]*v - s.A[2]*y
			v = y
		}
		out[n] = v
	}
}

// FiltFilt applies the filter forward and backward for zero phase
// distortion. The input is extended at both ends by odd reflection and the
// filter state is initialised to its steady state, keeping edge transients
// small.
func (f *Bandpass) FiltFilt(x []float64) ([]float64, error) {
	pad := f.padLen()
	if len(x) <= pad {
		return nil, fmt.Errorf("filtfilt: %d samples, need more than %d: %w", len(x), pad, errors.ErrNotAvailable)
	}

	n := len(x)
	ext := make([]float64, n+2*pad)
	for i := 0; i < pad; i++ {
		ext[i] = 2*x[0] - x[pad-i]
		ext[pad+n+i] = 2*x[n-1] - x[n-2-i]
	}
	copy(ext[pad:], x)

	zi := f.steadyState()
	y := make([]float64, len(ext))
	f.filter(y, ext, zi, ext[0])

	reverse(y)
	out := make([]float64, len(y))
	f.filter(out, y, zi, y[0])
	reverse(out)

	return out[pad : pad+n], nil
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
