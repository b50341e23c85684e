// Package render turns the notice collection into a self-contained HTML
// dashboard. It makes no decisions; every record is shown in the order given.
package render

import (
	"bufio"
	_ "embed"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"time"

	"bidwatch/internal/bid"
)

//go:embed dashboard.html.tmpl
var dashboardTmpl string

const DefaultTitle = "🏛️ 유니트미디어 입찰 공고 대시보드"

// Renderer writes a presentation of records to w.
type Renderer interface {
	Render(w io.Writer, records []bid.Record, generatedAt time.Time) error
}

// RenderError wraps any failure to produce or write the artifact.
type RenderError struct {
	Path string
	Err  error
}

func (e *RenderError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("render: %v", e.Err)
	}
	return fmt.Sprintf("render %s: %v", e.Path, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// HTML is the card-grid dashboard.
type HTML struct {
	Title string
	tmpl  *template.Template
}

func NewHTML(title string) (*HTML, error) {
	if title == "" {
		title = DefaultTitle
	}
	t, err := template.New("dashboard").Parse(dashboardTmpl)
	if err != nil {
		return nil, err
	}
	return &HTML{Title: title, tmpl: t}, nil
}

type card struct {
	Region   string
	Agency   string
	Title    string
	Deadline string
	Budget   string
	Link     string
}

type page struct {
	Title     string
	UpdatedAt string
	Count     int
	Cards     []card
}

func (h *HTML) Render(w io.Writer, records []bid.Record, generatedAt time.Time) error {
	p := page{
		Title:     h.Title,
		UpdatedAt: generatedAt.Format("2006-01-02 15:04:05"),
		Count:     len(records),
		Cards:     make([]card, 0, len(records)),
	}
	for _, r := range records {
		budget := r.BudgetAmount
		if budget == "" {
			budget = "0"
		}
		p.Cards = append(p.Cards, card{
			Region:   r.RegionOrDefault(),
			Agency:   r.Agency,
			Title:    r.Title,
			Deadline: r.DeadlineOrPlaceholder(),
			Budget:   budget,
			Link:     r.DetailURL,
		})
	}
	return h.tmpl.Execute(w, p)
}

// WriteFile renders into a temp file next to path and renames it into place,
// so a failed render leaves the previous page intact.
func WriteFile(path string, r Renderer, records []bid.Record, generatedAt time.Time) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &RenderError{Path: path, Err: err}
		}
	}
	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return &RenderError{Path: path, Err: err}
	}
	tmp := f.Name()
	fail := func(err error) error {
		_ = f.Close()
		_ = os.Remove(tmp)
		return &RenderError{Path: path, Err: err}
	}

	bw := bufio.NewWriter(f)
	if err := r.Render(bw, records, generatedAt); err != nil {
		return fail(err)
	}
	if err := bw.Flush(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return &RenderError{Path: path, Err: err}
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		_ = os.Remove(tmp)
		return &RenderError{Path: path, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return &RenderError{Path: path, Err: err}
	}
	return nil
}
