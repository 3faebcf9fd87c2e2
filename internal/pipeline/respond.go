package pipeline

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	tserrors "github.com/conneroisu/tagserve/internal/errors"
	"github.com/conneroisu/tagserve/internal/store"
)

// Phase names the stage of the pipeline a failure happened in.
type Phase string

const (
	// PhaseDispatch covers applying actions and fingerprinting assets.
	PhaseDispatch Phase = "dispatching actions"
	// PhaseRender covers everything after the state snapshot is taken.
	PhaseRender Phase = "rendering"
)

// Failure is a failed render.
type Failure struct {
	Phase Phase
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("Error while %s: %v", f.Phase, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// PublicMessage is the response body sent to the client for f.
func (f *Failure) PublicMessage() string {
	return fmt.Sprintf("Error while %s: %s", f.Phase, tserrors.PublicMessage(f.Err))
}

// Tag renders unit after applying actions and writes the page to w.
func (p *Pipeline) Tag(w http.ResponseWriter, r *http.Request, unit string, actions []store.Action, opts ...Option) {
	page, err := p.Render(r.Context(), Request{
		Unit:    unit,
		Actions: actions,
		Options: NewOptions(opts...),
	})
	if err != nil {
		WriteError(w, err)
		return
	}

	WritePage(w, page)
}

// WritePage writes a rendered page.
func WritePage(w http.ResponseWriter, page *Page) {
	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(len(page.HTML)))
	w.WriteHeader(page.Status)
	_, _ = w.Write(page.HTML)
}

// WriteError writes a 500 response describing err. Errors that are not a
// *Failure are reported as render failures.
func WriteError(w http.ResponseWriter, err error) {
	var f *Failure
	if !errors.As(err, &f) {
		f = &Failure{Phase: PhaseRender, Err: err}
	}

	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = fmt.Fprint(w, f.PublicMessage())
}
