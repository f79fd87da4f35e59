package nn

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Padding selects how a convolution pads its input.
type Padding struct {
	same bool
	h, w int
}

var (
	// PadSame pads by half the filter size so stride-1 convolutions keep
	// odd-sized inputs unchanged.
	PadSame = Padding{same: true}
	// PadValid does not pad.
	PadValid = Padding{}
)

// Pad pads both spatial dimensions by n.
func Pad(n int) Padding { return Padding{h: n, w: n} }

// PadHW pads rows by h and columns by w.
func PadHW(h, w int) Padding { return Padding{h: h, w: w} }

func (p Padding) resolve(kh, kw int) (int, int) {
	if p.same {
		return kh / 2, kw / 2
	}
	return p.h, p.w
}

func (p Padding) String() string {
	if p.same {
		return "same"
	}
	return fmt.Sprintf("%dx%d", p.h, p.w)
}

// ConvConfig describes a 2-D convolution. The filter is applied without
// flipping (cross-correlation).
type ConvConfig struct {
	Filters int
	Size    [2]int
	// Stride defaults to 1x1.
	Stride       [2]int
	Pad          Padding
	Nonlinearity Nonlinearity
	NoBias       bool
	// W defaults to GlorotUniform.
	W Initializer
}

// Conv2D convolves an (N, C, H, W) input into (N, F, OH, OW).
type Conv2D struct {
	base
	cfg    ConvConfig
	W, B   *Param
	ph, pw int
}

func convOutput(in, k, s, pad int) int {
	return (in+2*pad-k)/s + 1
}

func NewConv2D(in Layer, cfg ConvConfig) (*Conv2D, error) {
	s := in.OutputShape()
	if len(s) != 4 {
		return nil, errors.Wrapf(ErrShapeMismatch, "conv needs (N, C, H, W) input, got %v", s)
	}
	if cfg.Filters <= 0 || cfg.Size[0] <= 0 || cfg.Size[1] <= 0 {
		return nil, errors.Errorf("nn: invalid conv filters=%d size=%v", cfg.Filters, cfg.Size)
	}
	if cfg.Stride == [2]int{} {
		cfg.Stride = [2]int{1, 1}
	}
	if cfg.Nonlinearity == nil {
		cfg.Nonlinearity = Linear
	}
	if cfg.W == nil {
		cfg.W = GlorotUniform{}
	}
	ph, pw := cfg.Pad.resolve(cfg.Size[0], cfg.Size[1])
	oh := convOutput(s[2], cfg.Size[0], cfg.Stride[0], ph)
	ow := convOutput(s[3], cfg.Size[1], cfg.Stride[1], pw)
	if oh <= 0 || ow <= 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "conv %dx%d pad %v on %v leaves no output", cfg.Size[0], cfg.Size[1], cfg.Pad, s)
	}
	c := s[1]
	area := cfg.Size[0] * cfg.Size[1]
	l := &Conv2D{
		base: base{name: "conv2d", inputs: []Layer{in}, shape: Shape{s[0], cfg.Filters, oh, ow}},
		cfg:  cfg,
		ph:   ph,
		pw:   pw,
	}
	l.W = &Param{
		Name:          "conv2d.W",
		Shape:         Shape{cfg.Filters, c, cfg.Size[0], cfg.Size[1]},
		Trainable:     true,
		Regularizable: true,
		Init:          cfg.W,
		FanIn:         c * area,
		FanOut:        cfg.Filters * area,
	}
	if !cfg.NoBias {
		l.B = &Param{Name: "conv2d.b", Shape: Shape{cfg.Filters}, Trainable: true, Init: Constant(0)}
	}
	return l, nil
}

func (l *Conv2D) Params() []*Param {
	if l.B == nil {
		return []*Param{l.W}
	}
	return []*Param{l.W, l.B}
}

// geometry of one sample.
func (l *Conv2D) dims(in *Tensor) (c, h, w, oh, ow, rows int) {
	c, h, w = in.Shape[1], in.Shape[2], in.Shape[3]
	oh, ow = l.shape[2], l.shape[3]
	rows = c * l.cfg.Size[0] * l.cfg.Size[1]
	return
}

func (l *Conv2D) Forward(p *Pass, in []*Tensor) (*Tensor, error) {
	x := in[0]
	if !l.inputs[0].OutputShape().Accepts(x.Shape) {
		return nil, errors.Wrapf(ErrShapeMismatch, "conv expects %v, got %v", l.inputs[0].OutputShape(), x.Shape)
	}
	n := x.Shape[0]
	c, h, w, oh, ow, rows := l.dims(x)
	f := l.cfg.Filters
	out := New(n, f, oh, ow)
	cols := make([]float64, rows*oh*ow)
	wm := mat.NewDense(f, rows, l.W.Value)
	colm := mat.NewDense(rows, oh*ow, cols)
	for i := 0; i < n; i++ {
		im2col(x.Data[i*c*h*w:(i+1)*c*h*w], c, h, w, l.cfg.Size, l.cfg.Stride, l.ph, l.pw, oh, ow, cols)
		om := mat.NewDense(f, oh*ow, out.Data[i*f*oh*ow:(i+1)*f*oh*ow])
		om.Mul(wm, colm)
	}
	if l.B != nil {
		for i := 0; i < n; i++ {
			for j := 0; j < f; j++ {
				plane := out.Data[(i*f+j)*oh*ow : (i*f+j+1)*oh*ow]
				for k := range plane {
					plane[k] += l.B.Value[j]
				}
			}
		}
	}
	l.cfg.Nonlinearity.Apply(out)
	return out, nil
}

func (l *Conv2D) Backward(p *Pass, in []*Tensor, out, grad *Tensor) ([]*Tensor, error) {
	x := in[0]
	g := l.cfg.Nonlinearity.Backward(out, grad)
	n := x.Shape[0]
	c, h, w, oh, ow, rows := l.dims(x)
	f := l.cfg.Filters
	dx := x.ZerosLike()
	cols := make([]float64, rows*oh*ow)
	dcols := make([]float64, rows*oh*ow)
	wm := mat.NewDense(f, rows, l.W.Value)
	dwm := mat.NewDense(f, rows, l.W.grad())
	colm := mat.NewDense(rows, oh*ow, cols)
	dcolm := mat.NewDense(rows, oh*ow, dcols)
	var tmp mat.Dense
	for i := 0; i < n; i++ {
		gm := mat.NewDense(f, oh*ow, g.Data[i*f*oh*ow:(i+1)*f*oh*ow])
		im2col(x.Data[i*c*h*w:(i+1)*c*h*w], c, h, w, l.cfg.Size, l.cfg.Stride, l.ph, l.pw, oh, ow, cols)
		tmp.Mul(gm, colm.T())
		dwm.Add(dwm, &tmp)
		dcolm.Mul(wm.T(), gm)
		col2im(dcols, c, h, w, l.cfg.Size, l.cfg.Stride, l.ph, l.pw, oh, ow, dx.Data[i*c*h*w:(i+1)*c*h*w])
	}
	if l.B != nil {
		db := l.B.grad()
		for i := 0; i < n; i++ {
			for j := 0; j < f; j++ {
				for _, v := range g.Data[(i*f+j)*oh*ow : (i*f+j+1)*oh*ow] {
					db[j] += v
				}
			}
		}
	}
	return []*Tensor{dx}, nil
}

// im2col lays out every receptive field of src as a column of dst, which has
// c*kh*kw rows and oh*ow columns.
func im2col(src []float64, c, h, w int, k, s [2]int, ph, pw, oh, ow int, dst []float64) {
	row := 0
	for ci := 0; ci < c; ci++ {
		for ky := 0; ky < k[0]; ky++ {
			for kx := 0; kx < k[1]; kx++ {
				off := row * oh * ow
				for oy := 0; oy < oh; oy++ {
					iy := oy*s[0] - ph + ky
					for ox := 0; ox < ow; ox++ {
						ix := ox*s[1] - pw + kx
						if iy < 0 || iy >= h || ix < 0 || ix >= w {
							dst[off+oy*ow+ox] = 0
							continue
						}
						dst[off+oy*ow+ox] = src[(ci*h+iy)*w+ix]
					}
				}
				row++
			}
		}
	}
}

// col2im is the adjoint of im2col: it accumulates columns back into dst.
func col2im(cols []float64, c, h, w int, k, s [2]int, ph, pw, oh, ow int, dst []float64) {
	row := 0
	for ci := 0; ci < c; ci++ {
		for ky := 0; ky < k[0]; ky++ {
			for kx := 0; kx < k[1]; kx++ {
				off := row * oh * ow
				for oy := 0; oy < oh; oy++ {
					iy := oy*s[0] - ph + ky
					if iy < 0 || iy >= h {
						continue
					}
					for ox := 0; ox < ow; ox++ {
						ix := ox*s[1] - pw + kx
						if ix < 0 || ix >= w {
							continue
						}
						dst[(ci*h+iy)*w+ix] += cols[off+oy*ow+ox]
					}
				}
				row++
			}
		}
	}
}
