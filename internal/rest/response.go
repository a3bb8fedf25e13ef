package rest

import (
	"net/http"

	"github.com/go-chi/render"
)

// Response is the outcome of a dispatched request
type Response struct {
	Status int
	Body   any
	// Location is sent with 201 and 303 responses
	Location string
	// ContentLocation names the canonical URI of a re-rendered resource
	ContentLocation string
	// File, when set, is served from disk instead of Body
	File string
}

func (d *Dispatcher) write(w http.ResponseWriter, r *http.Request, resp *Response) {
	if resp.File != "" {
		http.ServeFile(w, r, resp.File)
		return
	}

	if resp.Location != "" {
		w.Header().Set("Location", resp.Location)
	}
	if resp.ContentLocation != "" {
		w.Header().Set("Content-Location", resp.ContentLocation)
	}

	switch resp.Status {
	case http.StatusNoContent, http.StatusSeeOther:
		w.WriteHeader(resp.Status)
		return
	case 0:
		resp.Status = http.StatusOK
	}

	render.Status(r, resp.Status)
	render.JSON(w, r, resp.Body)
}
