package nn

import (
	"math"

	"github.com/pkg/errors"
)

type PoolMode int

const (
	MaxPool PoolMode = iota
	// AveragePool divides by the full window, padding included.
	AveragePool
)

type PoolConfig struct {
	Size int
	// Stride defaults to Size.
	Stride int
	Pad    int
	Mode   PoolMode
}

// Pool2D pools square windows of an (N, C, H, W) input. Windows that would
// cross the padded border are dropped.
type Pool2D struct {
	base
	cfg PoolConfig
}

func NewPool2D(in Layer, cfg PoolConfig) (*Pool2D, error) {
	s := in.OutputShape()
	if len(s) != 4 {
		return nil, errors.Wrapf(ErrShapeMismatch, "pool needs (N, C, H, W) input, got %v", s)
	}
	if cfg.Size <= 0 {
		return nil, errors.Errorf("nn: invalid pool size %d", cfg.Size)
	}
	if cfg.Stride <= 0 {
		cfg.Stride = cfg.Size
	}
	oh := convOutput(s[2], cfg.Size, cfg.Stride, cfg.Pad)
	ow := convOutput(s[3], cfg.Size, cfg.Stride, cfg.Pad)
	if oh <= 0 || ow <= 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "pool %d on %v leaves no output", cfg.Size, s)
	}
	return &Pool2D{base: base{name: "pool2d", inputs: []Layer{in}, shape: Shape{s[0], s[1], oh, ow}}, cfg: cfg}, nil
}

func (l *Pool2D) Forward(p *Pass, in []*Tensor) (*Tensor, error) {
	x := in[0]
	n, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	oh, ow := l.shape[2], l.shape[3]
	out := New(n, c, oh, ow)
	var argmax []int
	if l.cfg.Mode == MaxPool {
		argmax = make([]int, len(out.Data))
	}
	norm := float64(l.cfg.Size * l.cfg.Size)
	for plane := 0; plane < n*c; plane++ {
		src := plane * h * w
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				best, bestIdx, total := math.Inf(-1), -1, 0.0
				for ky := 0; ky < l.cfg.Size; ky++ {
					iy := oy*l.cfg.Stride - l.cfg.Pad + ky
					if iy < 0 || iy >= h {
						continue
					}
					for kx := 0; kx < l.cfg.Size; kx++ {
						ix := ox*l.cfg.Stride - l.cfg.Pad + kx
						if ix < 0 || ix >= w {
							continue
						}
						v := x.Data[src+iy*w+ix]
						total += v
						if v > best {
							best, bestIdx = v, src+iy*w+ix
						}
					}
				}
				o := (plane*oh+oy)*ow + ox
				if l.cfg.Mode == MaxPool {
					out.Data[o] = best
					argmax[o] = bestIdx
				} else {
					out.Data[o] = total / norm
				}
			}
		}
	}
	if argmax != nil {
		p.state[l] = argmax
	}
	return out, nil
}

func (l *Pool2D) Backward(p *Pass, in []*Tensor, out, grad *Tensor) ([]*Tensor, error) {
	x := in[0]
	dx := x.ZerosLike()
	if l.cfg.Mode == MaxPool {
		argmax, ok := p.state[l].([]int)
		if !ok {
			return nil, errors.New("nn: max pool backward without forward state")
		}
		for o, src := range argmax {
			if src >= 0 {
				dx.Data[src] += grad.Data[o]
			}
		}
		return []*Tensor{dx}, nil
	}
	n, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	oh, ow := l.shape[2], l.shape[3]
	norm := float64(l.cfg.Size * l.cfg.Size)
	for plane := 0; plane < n*c; plane++ {
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				g := grad.Data[(plane*oh+oy)*ow+ox] / norm
				for ky := 0; ky < l.cfg.Size; ky++ {
					iy := oy*l.cfg.Stride - l.cfg.Pad + ky
					if iy < 0 || iy >= h {
						continue
					}
					for kx := 0; kx < l.cfg.Size; kx++ {
						ix := ox*l.cfg.Stride - l.cfg.Pad + kx
						if ix < 0 || ix >= w {
							continue
						}
						dx.Data[plane*h*w+iy*w+ix] += g
					}
				}
			}
		}
	}
	return []*Tensor{dx}, nil
}

// GlobalPool averages each channel of an (N, C, ...) input into (N, C).
type GlobalPool struct {
	base
}

func NewGlobalPool(in Layer) (*GlobalPool, error) {
	s := in.OutputShape()
	if len(s) < 3 {
		return nil, errors.Wrapf(ErrShapeMismatch, "global pool needs spatial axes, got %v", s)
	}
	return &GlobalPool{base{name: "globalpool", inputs: []Layer{in}, shape: Shape{s[0], s[1]}}}, nil
}

func (l *GlobalPool) Forward(p *Pass, in []*Tensor) (*Tensor, error) {
	x := in[0]
	n, c, area := layout(x)
	out := New(n, c)
	for plane := 0; plane < n*c; plane++ {
		total := 0.0
		for _, v := range x.Data[plane*area : (plane+1)*area] {
			total += v
		}
		out.Data[plane] = total / float64(area)
	}
	return out, nil
}

func (l *GlobalPool) Backward(p *Pass, in []*Tensor, out, grad *Tensor) ([]*Tensor, error) {
	x := in[0]
	n, c, area := layout(x)
	dx := x.ZerosLike()
	for plane := 0; plane < n*c; plane++ {
		g := grad.Data[plane] / float64(area)
		for k := plane * area; k < (plane+1)*area; k++ {
			dx.Data[k] = g
		}
	}
	return []*Tensor{dx}, nil
}
