// Package losses implements the objectives used by the scaffolders. Each loss
// returns its scalar value together with the gradient with respect to the
// prediction.
package losses

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"coco/internal/nn"
)

// BerhuFraction is the share of the largest absolute error at which the
// reverse Huber loss turns quadratic.
const BerhuFraction = 0.2

// Bounds optionally clamps predictions and targets before differencing.
type Bounds struct {
	Enabled      bool
	Lower, Upper float64
}

// Bounded clamps to [lower, upper].
func Bounded(lower, upper float64) Bounds {
	return Bounds{Enabled: true, Lower: lower, Upper: upper}
}

// Unbounded leaves values untouched.
var Unbounded = Bounds{}

func (b Bounds) clamp(v float64) (float64, bool) {
	if !b.Enabled {
		return v, false
	}
	if v < b.Lower {
		return b.Lower, true
	}
	if v > b.Upper {
		return b.Upper, true
	}
	return v, false
}

// diff returns clamp(p) - clamp(t) with a mask of predictions that were
// clamped and so receive no gradient.
func diff(prediction, target *nn.Tensor, b Bounds) ([]float64, []bool, error) {
	if len(prediction.Data) != len(target.Data) {
		return nil, nil, errors.Wrapf(nn.ErrShapeMismatch, "prediction %v vs target %v", prediction.Shape, target.Shape)
	}
	if len(prediction.Data) == 0 {
		return nil, nil, errors.New("losses: empty prediction")
	}
	d := make([]float64, len(prediction.Data))
	clamped := make([]bool, len(d))
	for i := range d {
		p, c := b.clamp(prediction.Data[i])
		t, _ := b.clamp(target.Data[i])
		d[i] = p - t
		clamped[i] = c
	}
	return d, clamped, nil
}

// MSE is the mean squared error.
func MSE(prediction, target *nn.Tensor, b Bounds) (float64, *nn.Tensor, error) {
	d, clamped, err := diff(prediction, target, b)
	if err != nil {
		return 0, nil, err
	}
	n := float64(len(d))
	loss := floats.Dot(d, d) / n
	grad := prediction.ZerosLike()
	for i, v := range d {
		if !clamped[i] {
			grad.Data[i] = 2 * v / n
		}
	}
	return loss, grad, nil
}

// Berhu is the reverse Huber loss of Laina et al. (2016): |e| up to the
// threshold c = BerhuFraction * max|e| and (e² + c²) / 2c beyond it. The two
// pieces meet at |e| = c. The threshold is held constant for the gradient.
func Berhu(prediction, target *nn.Tensor, b Bounds) (float64, *nn.Tensor, error) {
	d, clamped, err := diff(prediction, target, b)
	if err != nil {
		return 0, nil, err
	}
	abs := make([]float64, len(d))
	for i, v := range d {
		abs[i] = math.Abs(v)
	}
	c := BerhuFraction * floats.Max(abs)
	n := float64(len(d))

	var loss float64
	grad := prediction.ZerosLike()
	for i, e := range abs {
		var g float64
		if e <= c || c == 0 {
			loss += e
			g = sign(d[i])
		} else {
			loss += (e*e + c*c) / (2 * c)
			g = d[i] / c
		}
		if !clamped[i] {
			grad.Data[i] = g / n
		}
	}
	return loss / n, grad, nil
}

// BerhuThreshold reports the threshold Berhu uses for the given errors.
func BerhuThreshold(prediction, target *nn.Tensor, b Bounds) (float64, error) {
	d, _, err := diff(prediction, target, b)
	if err != nil {
		return 0, err
	}
	hi := 0.0
	for _, v := range d {
		hi = math.Max(hi, math.Abs(v))
	}
	return BerhuFraction * hi, nil
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

const probClip = 1e-7

// CategoricalCrossEntropy averages -sum(t log p) over the rows of (N, K)
// probabilities and one-hot targets.
func CategoricalCrossEntropy(probs, targets *nn.Tensor) (float64, *nn.Tensor, error) {
	if len(probs.Shape) != 2 || !probs.Shape.Equal(targets.Shape) {
		return 0, nil, errors.Wrapf(nn.ErrShapeMismatch, "probabilities %v vs targets %v", probs.Shape, targets.Shape)
	}
	n := float64(probs.Shape[0])
	var loss float64
	grad := probs.ZerosLike()
	for i, p := range probs.Data {
		t := targets.Data[i]
		if t == 0 {
			continue
		}
		clipped := math.Min(math.Max(p, probClip), 1-probClip)
		loss -= t * math.Log(clipped)
		if clipped == p {
			grad.Data[i] = -t / (p * n)
		}
	}
	return loss / n, grad, nil
}

// Accuracy is the fraction of rows whose argmax matches the target argmax.
func Accuracy(probs, targets *nn.Tensor) (float64, error) {
	if len(probs.Shape) != 2 || !probs.Shape.Equal(targets.Shape) {
		return 0, errors.Wrapf(nn.ErrShapeMismatch, "probabilities %v vs targets %v", probs.Shape, targets.Shape)
	}
	n, k := probs.Shape[0], probs.Shape[1]
	if n == 0 {
		return 0, nil
	}
	hits := 0
	for r := 0; r < n; r++ {
		if floats.MaxIdx(probs.Data[r*k:(r+1)*k]) == floats.MaxIdx(targets.Data[r*k:(r+1)*k]) {
			hits++
		}
	}
	return float64(hits) / float64(n), nil
}

// L2 is the sum of squared values over params.
func L2(params []*nn.Param) float64 {
	var total float64
	for _, p := range params {
		total += floats.Dot(p.Value, p.Value)
	}
	return total
}

// AddL2Grad accumulates the gradient of coef * L2(params).
func AddL2Grad(params []*nn.Param, coef float64) {
	for _, p := range params {
		if p.Grad == nil {
			p.ZeroGrad()
		}
		floats.AddScaled(p.Grad, 2*coef, p.Value)
	}
}
