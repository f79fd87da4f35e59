package model

import (
	"testing"

	"coco/internal/nn"
)

func TestBatchSize(t *testing.T) {
	if (Batch{}).Size() != 0 {
		t.Fatal("empty batch should have size 0")
	}
	b := Batch{Inputs: nn.New(5, 3, 2, 2), Targets: nn.New(5, 4)}
	if b.Size() != 5 {
		t.Fatalf("size %d, want 5", b.Size())
	}
}
