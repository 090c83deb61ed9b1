// Package corruption implements the synthetic signal corruptions used to build
// distribution-shifted audio splits. Every function returns a new waveform of
// the same length as its input and leaves the input untouched.
package corruption

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// Method names accepted by Apply.
const (
	WhiteNoiseMethod = "white_noise"
	PitchShiftMethod = "pitch_shift"
	LowPassMethod    = "low_pass"
	RoomReverbMethod = "room_reverb"
)

// ErrUnknownMethod is returned for a method name Apply does not know.
var ErrUnknownMethod = errors.New("unknown corruption method")

// ErrInvalidParameter is returned when a method parameter is out of range.
var ErrInvalidParameter = errors.New("invalid corruption parameter")

type applyFunc func(x []float64, param float64, sampleRate int, rng *rand.Rand) ([]float64, error)

var methods = map[string]applyFunc{
	WhiteNoiseMethod: func(x []float64, snrDB float64, _ int, rng *rand.Rand) ([]float64, error) {
		return WhiteNoise(x, snrDB, rng), nil
	},
	PitchShiftMethod: func(x []float64, semitones float64, _ int, _ *rand.Rand) ([]float64, error) {
		return PitchShift(x, semitones), nil
	},
	LowPassMethod: func(x []float64, kHz float64, sampleRate int, _ *rand.Rand) ([]float64, error) {
		return LowPass(x, sampleRate, kHz*1000)
	},
	RoomReverbMethod: func(x []float64, metres float64, sampleRate int, rng *rand.Rand) ([]float64, error) {
		return RoomReverb(x, sampleRate, metres, rng)
	},
}

// Methods returns the accepted method names in sorted order.
func Methods() []string {
	names := make([]string, 0, len(methods))
	for name := range methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate reports whether method is known.
func Validate(method string) error {
	if _, ok := methods[method]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
	return nil
}

// Parameter bounds. Beyond them the corruptions either destroy the signal
// entirely or need unbounded memory.
const (
	MaxSemitones = 48.0
	MaxDistanceM = 100.0
	MaxAbsSNRDB  = 200.0
)

// ValidateParameter reports whether param is usable with method. Every
// parameter must be finite.
func ValidateParameter(method string, param float64) error {
	if err := Validate(method); err != nil {
		return err
	}
	if math.IsNaN(param) || math.IsInf(param, 0) {
		return fmt.Errorf("%w: %s parameter %g is not finite", ErrInvalidParameter, method, param)
	}
	switch method {
	case WhiteNoiseMethod:
		if math.Abs(param) > MaxAbsSNRDB {
			return fmt.Errorf("%w: %s snr %gdB outside [-%g, %g]", ErrInvalidParameter, method, param, MaxAbsSNRDB, MaxAbsSNRDB)
		}
	case PitchShiftMethod:
		if math.Abs(param) > MaxSemitones {
			return fmt.Errorf("%w: %s %g semitones outside [-%g, %g]", ErrInvalidParameter, method, param, MaxSemitones, MaxSemitones)
		}
	case LowPassMethod:
		if param <= 0 {
			return fmt.Errorf("%w: %s cutoff %gkHz must be positive", ErrInvalidParameter, method, param)
		}
	case RoomReverbMethod:
		if param <= 0 || param > MaxDistanceM {
			return fmt.Errorf("%w: %s distance %gm outside (0, %g]", ErrInvalidParameter, method, param, MaxDistanceM)
		}
	}
	return nil
}

// Apply runs the named corruption. The unit of param depends on the method:
// decibels of signal-to-noise ratio for white_noise, semitones for
// pitch_shift, kilohertz of cutoff for low_pass and metres of source distance
// for room_reverb.
func Apply(method string, param float64, x []float64, sampleRate int, rng *rand.Rand) ([]float64, error) {
	if err := ValidateParameter(method, param); err != nil {
		return nil, err
	}
	return methods[method](x, param, sampleRate, rng)
}

// WhiteNoise adds Gaussian noise so that the signal-to-noise ratio is snrDB.
// A silent input is treated as having unit power.
func WhiteNoise(x []float64, snrDB float64, rng *rand.Rand) []float64 {
	out := make([]float64, len(x))
	if len(x) == 0 {
		return out
	}
	power := floats.Dot(x, x) / float64(len(x))
	if power == 0 {
		power = 1
	}
	std := math.Sqrt(power / math.Pow(10, snrDB/10))
	for i := range out {
		out[i] = x[i] + std*rng.NormFloat64()
	}
	return out
}

// PitchShift resamples x by 2^(semitones/12) with linear interpolation. The
// result keeps len(x) samples; positive shifts run out of input early and
// are padded with silence, negative shifts drop the tail. A non-finite shift
// yields silence.
func PitchShift(x []float64, semitones float64) []float64 {
	out := make([]float64, len(x))
	ratio := math.Pow(2, semitones/12)
	last := len(x) - 1
	for i := range out {
		pos := float64(i) * ratio
		if !(pos <= float64(last)) {
			break
		}
		j := int(pos)
		if j < 0 {
			break
		}
		frac := pos - float64(j)
		if j == last || frac == 0 {
			out[i] = x[j]
			continue
		}
		out[i] = x[j]*(1-frac) + x[j+1]*frac
	}
	return out
}

// LowPass removes every frequency component above cutoffHz.
func LowPass(x []float64, sampleRate int, cutoffHz float64) ([]float64, error) {
	if !(cutoffHz > 0) || math.IsInf(cutoffHz, 1) || sampleRate <= 0 {
		return nil, fmt.Errorf("%w: cutoff %gHz at %dHz sample rate", ErrInvalidParameter, cutoffHz, sampleRate)
	}
	n := len(x)
	if n == 0 {
		return []float64{}, nil
	}
	fft := fourier.NewFFT(n)
	coeff := fft.Coefficients(nil, x)
	for i := range coeff {
		if fft.Freq(i)*float64(sampleRate) > cutoffHz {
			coeff[i] = 0
		}
	}
	out := fft.Sequence(nil, coeff)
	floats.Scale(1/float64(n), out)
	return out, nil
}

const speedOfSound = 343.0

// RoomImpulseResponse synthesizes a room response for a source at distanceM:
// a direct path delayed by the travel time with 1/distance gain, followed by
// an exponentially decaying diffuse tail whose reverberation time grows with
// distance. It returns nil unless 0 < distanceM <= MaxDistanceM.
func RoomImpulseResponse(sampleRate int, distanceM float64, rng *rand.Rand) []float64 {
	if !(distanceM > 0 && distanceM <= MaxDistanceM) || sampleRate <= 0 {
		return nil
	}
	rt60 := math.Min(0.3+0.05*distanceM, 1.5)
	delay := int(distanceM / speedOfSound * float64(sampleRate))
	n := delay + int(rt60*float64(sampleRate)) + 1
	ir := make([]float64, n)
	ir[delay] = 1 / math.Max(distanceM, 1)

	const tailGain = 0.3
	decay := 6.91 / (rt60 * float64(sampleRate)) // -60dB after rt60 seconds
	for i := delay + 1; i < n; i++ {
		t := float64(i - delay)
		ir[i] = tailGain * rng.NormFloat64() * math.Exp(-decay*t) / math.Sqrt(float64(sampleRate)/100)
	}
	return ir
}

// RoomReverb convolves x with RoomImpulseResponse and rescales the result to
// the input's peak amplitude.
func RoomReverb(x []float64, sampleRate int, distanceM float64, rng *rand.Rand) ([]float64, error) {
	if !(distanceM > 0 && distanceM <= MaxDistanceM) || sampleRate <= 0 {
		return nil, fmt.Errorf("%w: distance %gm at %dHz sample rate", ErrInvalidParameter, distanceM, sampleRate)
	}
	if len(x) == 0 {
		return []float64{}, nil
	}
	ir := RoomImpulseResponse(sampleRate, distanceM, rng)
	out := convolve(x, ir)[:len(x)]

	inPeak := peak(x)
	outPeak := peak(out)
	if outPeak > 0 {
		floats.Scale(inPeak/outPeak, out)
	}
	return out, nil
}

// convolve computes the full linear convolution of a and b via FFT.
func convolve(a, b []float64) []float64 {
	m := len(a) + len(b) - 1
	size := 1
	for size < m {
		size <<= 1
	}
	pa := make([]float64, size)
	pb := make([]float64, size)
	copy(pa, a)
	copy(pb, b)

	fft := fourier.NewFFT(size)
	ca := fft.Coefficients(nil, pa)
	cb := fft.Coefficients(nil, pb)
	for i := range ca {
		ca[i] *= cb[i]
	}
	out := fft.Sequence(nil, ca)
	floats.Scale(1/float64(size), out)
	return out[:m]
}

func peak(x []float64) float64 {
	var p float64
	for _, v := range x {
		p = math.Max(p, math.Abs(v))
	}
	return p
}
