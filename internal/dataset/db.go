package dataset

import (
	"database/sql"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	sync "github.com/sasha-s/go-deadlock"
)

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	k TEXT PRIMARY KEY,
	v TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS images (
	id INTEGER PRIMARY KEY,
	label INTEGER NOT NULL,
	data BLOB NOT NULL
);`

// Meta describes the images stored in a database.
type Meta struct {
	Channels int
	Height   int
	Width    int
	Classes  []string
}

// imageDB serialises access to one sqlite image database.
type imageDB struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func openDB(path string) (*imageDB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "create schema in %s", path)
	}
	return &imageDB{db: db, path: path}, nil
}

func (d *imageDB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Close()
}

func (d *imageDB) writeMeta(tx *sql.Tx, m Meta) error {
	kv := map[string]string{
		"channels": strconv.Itoa(m.Channels),
		"height":   strconv.Itoa(m.Height),
		"width":    strconv.Itoa(m.Width),
		"classes":  strings.Join(m.Classes, "\n"),
	}
	for k, v := range kv {
		if _, err := tx.Exec("INSERT OR REPLACE INTO meta (k, v) VALUES (?, ?)", k, v); err != nil {
			return errors.Wrapf(err, "write meta %s", k)
		}
	}
	return nil
}

func (d *imageDB) readMeta() (Meta, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rows, err := d.db.Query("SELECT k, v FROM meta")
	if err != nil {
		return Meta{}, errors.Wrapf(err, "read meta of %s", d.path)
	}
	defer rows.Close()
	kv := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Meta{}, errors.Wrap(err, "scan meta")
		}
		kv[k] = v
	}
	if err := rows.Err(); err != nil {
		return Meta{}, errors.Wrap(err, "read meta")
	}
	var m Meta
	for key, dst := range map[string]*int{"channels": &m.Channels, "height": &m.Height, "width": &m.Width} {
		n, err := strconv.Atoi(kv[key])
		if err != nil || n <= 0 {
			return Meta{}, errors.Errorf("%s: bad meta %s=%q", d.path, key, kv[key])
		}
		*dst = n
	}
	if kv["classes"] != "" {
		m.Classes = strings.Split(kv["classes"], "\n")
	}
	return m, nil
}

func (d *imageDB) ids() ([]int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rows, err := d.db.Query("SELECT id FROM images ORDER BY id")
	if err != nil {
		return nil, errors.Wrapf(err, "list images of %s", d.path)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan image id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (d *imageDB) image(id int64) (label int, data []byte, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	row := d.db.QueryRow("SELECT label, data FROM images WHERE id = ?", id)
	if err := row.Scan(&label, &data); err != nil {
		return 0, nil, errors.Wrapf(err, "read image %d of %s", id, d.path)
	}
	return label, data, nil
}
