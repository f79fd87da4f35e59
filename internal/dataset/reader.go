package dataset

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Example is one decoded database record.
type Example struct {
	// Image holds Channels x Height x Width bytes.
	Image []byte
	Label int
}

// Reader gives indexed access to an image database.
type Reader struct {
	// Seed drives the per-epoch access order when randomized.
	Seed int64

	db        *imageDB
	meta      Meta
	ids       []int64
	randomize bool
}

// SetupRead opens the database at path. With randomize set, Order returns a
// fresh permutation per epoch.
func (r *Reader) SetupRead(path string, randomize bool) error {
	if r.db != nil {
		return errors.Errorf("reader already set up for %s", r.db.path)
	}
	if !exists(path) {
		return errors.Errorf("setup read: %s does not exist", path)
	}
	d, err := openDB(path)
	if err != nil {
		return err
	}
	meta, err := d.readMeta()
	if err != nil {
		d.Close()
		return err
	}
	ids, err := d.ids()
	if err != nil {
		d.Close()
		return err
	}
	r.db, r.meta, r.ids, r.randomize = d, meta, ids, randomize
	return nil
}

// Close releases the database.
func (r *Reader) Close() error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

func (r *Reader) Len() int { return len(r.ids) }

func (r *Reader) Classes() []string { return r.meta.Classes }

// Shape is (channels, height, width).
func (r *Reader) Shape() (int, int, int) {
	return r.meta.Channels, r.meta.Height, r.meta.Width
}

// Read returns the i-th record in storage order.
func (r *Reader) Read(i int) (Example, error) {
	if r.db == nil {
		return Example{}, errors.New("reader is not set up")
	}
	if i < 0 || i >= len(r.ids) {
		return Example{}, errors.Errorf("read %d: index out of range [0, %d)", i, len(r.ids))
	}
	label, data, err := r.db.image(r.ids[i])
	if err != nil {
		return Example{}, err
	}
	c, h, w := r.Shape()
	if len(data) != c*h*w {
		return Example{}, errors.Errorf("read %d: %d bytes, want %d", i, len(data), c*h*w)
	}
	return Example{Image: data, Label: label}, nil
}

// Order is the access order for epoch: storage order unless randomized.
func (r *Reader) Order(epoch int) []int {
	if !r.randomize {
		order := make([]int, len(r.ids))
		for i := range order {
			order[i] = i
		}
		return order
	}
	return rand.New(rand.NewSource(r.Seed + int64(epoch))).Perm(len(r.ids))
}
