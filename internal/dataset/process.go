package dataset

import (
	"github.com/pkg/errors"

	"coco/internal/model"
)

// ImageMeans are the per-channel RGB means removed before classification.
var ImageMeans = []float64{142.9, 115.7, 89.52}

// SubtractChannelMeans returns a ProcessFunc removing means[c] from plane c of
// every (N, C, H, W) input.
func SubtractChannelMeans(means []float64) ProcessFunc {
	return func(b *model.Batch) error {
		s := b.Inputs.Shape
		if len(s) != 4 || s[1] != len(means) {
			return errors.Errorf("subtract means: inputs %v, %d means", s, len(means))
		}
		area := s[2] * s[3]
		for n := 0; n < s[0]; n++ {
			for c, m := range means {
				plane := b.Inputs.Data[(n*s[1]+c)*area : (n*s[1]+c+1)*area]
				for i := range plane {
					plane[i] -= m
				}
			}
		}
		return nil
	}
}
