package dataset

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"math/rand"
	"os"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// Options configures BuildClassDatabase.
type Options struct {
	Width       int
	Height      int
	ValFraction float64
	Seed        int64
	// Force rebuilds databases that already exist.
	Force bool
}

// Channels is the number of colour planes stored per image.
const Channels = 3

// DatabasePaths returns the train and validation database paths for prefix.
func DatabasePaths(prefix string) (train, val string) {
	return prefix + "_train.sqlite3", prefix + "_val.sqlite3"
}

// BuildClassDatabase decodes every image below the class subdirectories of
// folder, resizes it to Width x Height and splits the set into train and
// validation databases. Existing databases are reused unless Force is set.
func BuildClassDatabase(prefix, folder string, opts Options) (train, val string, err error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return "", "", errors.Errorf("build database: bad shape %dx%d", opts.Width, opts.Height)
	}
	if opts.ValFraction < 0 || opts.ValFraction >= 1 {
		return "", "", errors.Errorf("build database: val fraction %v outside [0, 1)", opts.ValFraction)
	}
	train, val = DatabasePaths(prefix)
	if !opts.Force && exists(train) && exists(val) {
		log.Printf("dataset reuse train=%s val=%s", train, val)
		return train, val, nil
	}

	classes, err := ParseFolder(folder)
	if err != nil {
		return "", "", err
	}
	if len(classes) == 0 {
		return "", "", errors.Errorf("build database: no class directories in %s", folder)
	}
	entries, err := DiscoverImages(folder, classes)
	if err != nil {
		return "", "", err
	}
	if len(entries) == 0 {
		return "", "", errors.Errorf("build database: no images in %s", folder)
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	rng.Shuffle(len(entries), func(i, j int) { entries[i], entries[j] = entries[j], entries[i] })
	nVal := int(float64(len(entries)) * opts.ValFraction)
	if nVal == 0 && opts.ValFraction > 0 && len(entries) > 1 {
		nVal = 1
	}

	meta := Meta{Channels: Channels, Height: opts.Height, Width: opts.Width, Classes: classes}
	if err := writeDatabase(val, meta, entries[:nVal]); err != nil {
		return "", "", err
	}
	if err := writeDatabase(train, meta, entries[nVal:]); err != nil {
		return "", "", err
	}
	log.Printf("dataset built classes=%d train=%d val=%d", len(classes), len(entries)-nVal, nVal)
	return train, val, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func writeDatabase(path string, meta Meta, entries []Entry) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "replace %s", path)
	}
	d, err := openDB(path)
	if err != nil {
		return err
	}
	defer d.Close()

	d.mu.Lock()
	defer d.mu.Unlock()
	tx, err := d.db.Begin()
	if err != nil {
		return errors.Wrapf(err, "begin %s", path)
	}
	if err := d.writeMeta(tx, meta); err != nil {
		tx.Rollback()
		return err
	}
	for i, e := range entries {
		data, err := loadImage(e.Path, meta.Width, meta.Height)
		if err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.Exec("INSERT INTO images (id, label, data) VALUES (?, ?, ?)", i, e.Label, data); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "insert %s", e.Path)
		}
	}
	return errors.Wrapf(tx.Commit(), "commit %s", path)
}

// loadImage decodes the file and returns it resized, as planar RGB bytes.
func loadImage(path string, width, height int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open image")
	}
	defer f.Close()
	src, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return planar(resize(src, width, height)), nil
}

func resize(src image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// planar reorders interleaved RGBA pixels into C x H x W.
func planar(img *image.RGBA) []byte {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	area := w * h
	out := make([]byte, Channels*area)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			for c := 0; c < Channels; c++ {
				out[c*area+y*w+x] = row[x*4+c]
			}
		}
	}
	return out
}
