package img2img

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	_ "modernc.org/sqlite"
)

// SummaryDB is the event database file created inside a SummaryWriter's
// log directory.
const SummaryDB = "events.sqlite3"

// ScalarEvent is one logged scalar value.
type ScalarEvent struct {
	Step  int
	Value float64
	Time  time.Time
}

// SummaryWriter records training events (scalars, image grids and model
// graphs) in an SQLite database under a log directory. Images are written
// next to it as PNG files and referenced from the database.
type SummaryWriter struct {
	dir string
	db  *sql.DB
	mu  sync.Mutex
}

// NewSummaryWriter opens (or creates) the event database in dir.
func NewSummaryWriter(dir string) (*SummaryWriter, error) {
	if err := os.MkdirAll(filepath.Join(dir, "images"), 0o755); err != nil {
		return nil, errors.Wrapf(err, "create summary dir %s", dir)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, SummaryDB))
	if err != nil {
		return nil, errors.Wrap(err, "open summary database")
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS scalars(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts REAL NOT NULL,
			tag TEXT NOT NULL,
			step INTEGER NOT NULL,
			value REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS scalars_tag ON scalars(tag, step)`,
		`CREATE TABLE IF NOT EXISTS images(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts REAL NOT NULL,
			tag TEXT NOT NULL,
			step INTEGER NOT NULL,
			path TEXT NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS graphs(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts REAL NOT NULL,
			model TEXT NOT NULL,
			input_shape TEXT NOT NULL,
			summary TEXT NOT NULL
		)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "create summary schema")
		}
	}
	return &SummaryWriter{dir: dir, db: db}, nil
}

// Dir returns the log directory.
func (w *SummaryWriter) Dir() string { return w.dir }

func now() float64 { return float64(time.Now().UnixMilli()) / 1000.0 }

// AddScalar records value for tag at step.
func (w *SummaryWriter) AddScalar(tag string, value float64, step int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.db.Exec("INSERT INTO scalars(ts, tag, step, value) VALUES(?,?,?,?)", now(), tag, step, value)
	return errors.Wrapf(err, "add scalar %q", tag)
}

var unsafeTagChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// AddImage stores a CHW image (typically a MakeGrid result) for tag at
// step.
func (w *SummaryWriter) AddImage(tag string, img *Tensor, step int) error {
	if len(img.shape) != 3 {
		return errors.Errorf("img2img: AddImage expects CHW, got %v", img.shape)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	var count int
	if err := w.db.QueryRow("SELECT COUNT(*) FROM images").Scan(&count); err != nil {
		return errors.Wrap(err, "count images")
	}
	name := fmt.Sprintf("%s_%d_%d.png", unsafeTagChars.ReplaceAllString(tag, "_"), step, count)
	rel := filepath.Join("images", name)
	if err := writePNG(img, filepath.Join(w.dir, rel)); err != nil {
		return err
	}
	_, err := w.db.Exec("INSERT INTO images(ts, tag, step, path, width, height) VALUES(?,?,?,?,?,?)",
		now(), tag, step, rel, img.shape[2], img.shape[1])
	return errors.Wrapf(err, "add image %q", tag)
}

// AddGraph records the structure of model as traced for input.
func (w *SummaryWriter) AddGraph(model *Sequential, input *Tensor) error {
	shape := input.Shape()
	if len(shape) == len(model.inputShape)+1 {
		shape = shape[1:]
	}
	if err := validateShape(model.inputShape, shape); err != nil {
		return errors.Wrap(err, "add graph")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.db.Exec("INSERT INTO graphs(ts, model, input_shape, summary) VALUES(?,?,?,?)",
		now(), model.Name(), fmt.Sprint(input.Shape()), model.Summary())
	return errors.Wrap(err, "add graph")
}

// Scalars returns the events logged for tag ordered by step.
func (w *SummaryWriter) Scalars(tag string) ([]ScalarEvent, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	rows, err := w.db.Query("SELECT step, value, ts FROM scalars WHERE tag = ? ORDER BY step, id", tag)
	if err != nil {
		return nil, errors.Wrapf(err, "query scalars %q", tag)
	}
	defer rows.Close()

	var events []ScalarEvent
	for rows.Next() {
		var e ScalarEvent
		var ts float64
		if err := rows.Scan(&e.Step, &e.Value, &ts); err != nil {
			return nil, errors.Wrap(err, "scan scalar")
		}
		e.Time = time.UnixMilli(int64(ts * 1000))
		events = append(events, e)
	}
	return events, errors.Wrap(rows.Err(), "read scalars")
}

// ImageCount returns the number of images logged for tag.
func (w *SummaryWriter) ImageCount(tag string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var n int
	err := w.db.QueryRow("SELECT COUNT(*) FROM images WHERE tag = ?", tag).Scan(&n)
	return n, errors.Wrapf(err, "count images %q", tag)
}

// PlotScalars renders the history of tag as a line plot (PNG, SVG or PDF
// by the extension of path).
func (w *SummaryWriter) PlotScalars(tag, path string) error {
	events, err := w.Scalars(tag)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return errors.Errorf("img2img: no scalars logged for %q", tag)
	}
	pts := make(plotter.XYs, len(events))
	for i, e := range events {
		pts[i].X = float64(e.Step)
		pts[i].Y = e.Value
	}

	p := plot.New()
	p.Title.Text = tag
	p.X.Label.Text = "step"
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(pts)
	if err != nil {
		return errors.Wrap(err, "plot scalars")
	}
	p.Add(line)
	return errors.Wrapf(p.Save(8*vg.Inch, 4*vg.Inch, path), "save plot %s", path)
}

// Close flushes and closes the event database.
func (w *SummaryWriter) Close() error {
	return w.db.Close()
}
