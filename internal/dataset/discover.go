package dataset

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/pkg/errors"
)

var imageRegexp = regexp.MustCompile(`(?i)\.(png|jpe?g|gif|bmp)$`)

// Entry is one labelled image file.
type Entry struct {
	Path  string
	Label int
}

// ParseFolder returns the sorted names of the class subdirectories of folder.
func ParseFolder(folder string) ([]string, error) {
	dirents, err := os.ReadDir(folder)
	if err != nil {
		return nil, errors.Wrap(err, "parse folder")
	}
	classes := make([]string, 0, len(dirents))
	for _, d := range dirents {
		if d.IsDir() {
			classes = append(classes, d.Name())
		}
	}
	sort.Strings(classes)
	return classes, nil
}

// DiscoverImages lists the images beneath each class directory, labelled by
// the class index. Files are sorted within a class.
func DiscoverImages(folder string, classes []string) ([]Entry, error) {
	entries := make([]Entry, 0)
	for label, class := range classes {
		root := filepath.Join(folder, class)
		var paths []string
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if imageRegexp.MatchString(d.Name()) {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "discover images of class %s", class)
		}
		sort.Strings(paths)
		for _, p := range paths {
			entries = append(entries, Entry{Path: p, Label: label})
		}
	}
	return entries, nil
}
