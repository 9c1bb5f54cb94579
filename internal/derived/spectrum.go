package derived

import (
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Envelope returns the magnitude of the analytic signal of x, computed with
// the FFT-based Hilbert transform.
func Envelope(x []float64) []float64 {
	n := len(x)
	if n == 0 {
		return nil
	}

	seq := make([]complex128, n)
	for i, v := range x {
		seq[i] = complex(v, 0)
	}

	fft := fourier.NewCmplxFFT(n)
	coeff := fft.Coefficients(nil, seq)

	// Zero the negative frequencies and double the positive ones.
	for i := range coeff {
		switch {
		case i == 0:
		case n%2 == 0 && i == n/2:
		case i < (n+1)/2:
			coeff[i] *= 2
		default:
			coeff[i] = 0
		}
	}

	analytic := fft.Sequence(nil, coeff)
	env := make([]float64, n)
	scale := complex(1/float64(n), 0)
	for i, c := range analytic {
		env[i] = cmplx.Abs(c * scale)
	}
	return env
}

// spectrum is the one-sided magnitude spectrum of a real sequence.
type spectrum struct {
	mag  []float64
	step float64 // Hz per bin
}

// magnitudeSpectrum returns the one-sided magnitude spectrum of x sampled at
// fs, after removing the mean.
func magnitudeSpectrum(x []float64, fs float64) spectrum {
	n := len(x)
	var mean float64
	for _, v := range x {
		mean += v
	}
	mean /= float64(n)

	centered := make([]float64, n)
	for i, v := range x {
		centered[i] = v - mean
	}

	fft := fourier.NewFFT(n)
	coeff := fft.Coefficients(nil, centered)
	mag := make([]float64, len(coeff))
	for i, c := range coeff {
		mag[i] = cmplx.Abs(c)
	}
	return spectrum{mag: mag, step: fs / float64(n)}
}

// freq returns the frequency of bin i in Hz.
func (s spectrum) freq(i int) float64 { return float64(i) * s.step }

// peak returns the frequency of the largest bin with lo <= f <= hi,
// excluding DC. ok is false when no bin qualifies or the spectrum is flat.
func (s spectrum) peak(lo, hi float64) (hz float64, ok bool) {
	best := -1
	for i := 1; i < len(s.mag); i++ {
		f := s.freq(i)
		if f < lo || f > hi {
			continue
		}
		if best < 0 || s.mag[i] > s.mag[best] {
			best = i
		}
	}
	if best < 0 || s.mag[best] == 0 {
		return 0, false
	}
	return s.freq(best), true
}
