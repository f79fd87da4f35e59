// Package job persists named key-value payloads, one compressed file per job.
package job

import (
	"bytes"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
	sync "github.com/sasha-s/go-deadlock"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// DefaultCompression is the zlib level used when a store does not set one.
const DefaultCompression = 3

// DefaultDir returns <home>/.coco/jobs.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "resolve home directory")
	}
	return filepath.Join(home, ".coco", "jobs"), nil
}

// Store locates job files in Dir.
type Store struct {
	Dir string
	// Compression is a zlib level; zero means DefaultCompression.
	Compression int

	mu sync.Mutex
}

// NewStore returns a store rooted at dir, or DefaultDir when dir is empty.
func NewStore(dir string, compression int) (*Store, error) {
	if dir == "" {
		d, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	return &Store{Dir: dir, Compression: compression}, nil
}

// Job is a named payload of variant values.
type Job struct {
	Name string
	Data map[string]*structpb.Value

	store *Store
}

// New returns an empty job. An empty name becomes job_<uuid>.
func (s *Store) New(name string) *Job {
	if name == "" {
		name = "job_" + uuid.New().String()
	}
	return &Job{Name: name, Data: make(map[string]*structpb.Value), store: s}
}

// FromName creates the job and loads its payload.
func (s *Store) FromName(name string) (*Job, error) {
	j := s.New(name)
	if err := j.Load(); err != nil {
		return nil, err
	}
	return j, nil
}

// Path is the file backing the job.
func (j *Job) Path() string {
	return filepath.Join(j.store.Dir, j.Name)
}

// Get returns the value stored under key.
func (j *Job) Get(key string) (*structpb.Value, bool) {
	v, ok := j.Data[key]
	return v, ok
}

// Set stores value under key and saves the whole payload. Values must be
// representable by structpb.NewValue.
func (j *Job) Set(key string, value interface{}) error {
	v, err := structpb.NewValue(value)
	if err != nil {
		return errors.Wrapf(err, "job %s: encode %q", j.Name, key)
	}
	j.Data[key] = v
	return j.Save()
}

// Save writes the payload, creating the job directory if needed. The file is
// replaced atomically.
func (j *Job) Save() error {
	s := j.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ensureDir(s.Dir); err != nil {
		return err
	}
	raw, err := proto.Marshal(&structpb.Struct{Fields: j.Data})
	if err != nil {
		return errors.Wrapf(err, "job %s: marshal", j.Name)
	}
	level := s.Compression
	if level == 0 {
		level = DefaultCompression
	}
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return errors.Wrapf(err, "job %s: compression level %d", j.Name, level)
	}
	if _, err := zw.Write(raw); err != nil {
		return errors.Wrapf(err, "job %s: compress", j.Name)
	}
	if err := zw.Close(); err != nil {
		return errors.Wrapf(err, "job %s: compress", j.Name)
	}

	tmp, err := os.CreateTemp(s.Dir, "."+j.Name+".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "job %s: create temp file", j.Name)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "job %s: write", j.Name)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "job %s: write", j.Name)
	}
	if err := os.Rename(tmp.Name(), j.Path()); err != nil {
		return errors.Wrapf(err, "job %s: replace", j.Name)
	}
	return nil
}

// Load replaces the payload with the saved one.
func (j *Job) Load() error {
	raw, err := os.ReadFile(j.Path())
	if err != nil {
		return errors.Wrapf(err, "job %s: read", j.Name)
	}
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return errors.Wrapf(err, "job %s: corrupt file", j.Name)
	}
	defer zr.Close()
	payload, err := io.ReadAll(zr)
	if err != nil {
		return errors.Wrapf(err, "job %s: corrupt file", j.Name)
	}
	var st structpb.Struct
	if err := proto.Unmarshal(payload, &st); err != nil {
		return errors.Wrapf(err, "job %s: decode", j.Name)
	}
	j.Data = st.GetFields()
	if j.Data == nil {
		j.Data = make(map[string]*structpb.Value)
	}
	return nil
}

// ensureDir creates dir, tolerating a directory that already exists or is
// created concurrently.
func ensureDir(dir string) error {
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
		return errors.Wrapf(err, "create job directory %s", dir)
	}
	return nil
}
