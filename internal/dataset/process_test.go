package dataset

import (
	"math"
	"testing"

	"coco/internal/model"
	"coco/internal/nn"
)

func TestSubtractChannelMeans(t *testing.T) {
	b := model.Batch{Inputs: nn.New(2, 3, 1, 2)}
	for i := range b.Inputs.Data {
		b.Inputs.Data[i] = 200
	}
	if err := SubtractChannelMeans(ImageMeans)(&b); err != nil {
		t.Fatal(err)
	}
	want := []float64{57.1, 57.1, 84.3, 84.3, 110.48, 110.48}
	for n := 0; n < 2; n++ {
		for i, w := range want {
			if got := b.Inputs.Data[n*6+i]; math.Abs(got-w) > 1e-9 {
				t.Fatalf("sample %d value %d = %v, want %v", n, i, got, w)
			}
		}
	}
}

func TestSubtractChannelMeansShape(t *testing.T) {
	b := model.Batch{Inputs: nn.New(1, 1, 2, 2)}
	if err := SubtractChannelMeans(ImageMeans)(&b); err == nil {
		t.Fatal("expected error for single-channel input")
	}
}
