package web

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/hpungsan/snapkeep/internal/errors"
	"github.com/hpungsan/snapkeep/internal/ops"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	svc     *ops.Service
	version string
}

// editBody is the PATCH /api/files/{name} body.
type editBody struct {
	Comment *string   `json:"comment,omitempty"`
	Labels  *[]string `json:"labels,omitempty"`
}

// restoreBody is the POST /api/restore body.
type restoreBody struct {
	Name   string            `json:"name"`
	Items  []string          `json:"items,omitempty"`
	Force  *bool             `json:"force,omitempty"`
	Macros map[string]string `json:"macros,omitempty"`
}

// saveBody is the POST /api/save body.
type saveBody struct {
	Name      string            `json:"name,omitempty"`
	Comment   string            `json:"comment,omitempty"`
	Labels    []string          `json:"labels,omitempty"`
	Force     bool              `json:"force,omitempty"`
	Overwrite bool              `json:"overwrite,omitempty"`
	Macros    map[string]string `json:"macros,omitempty"`
}

// reconcileBody is the POST /api/reconcile body.
type reconcileBody struct {
	Dir string `json:"dir,omitempty"`
}

// HandleHealth reports liveness and the build version.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.version})
}

// HandleStatus handles GET /api/status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, h.svc.Status())
}

// HandleReconcile handles POST /api/reconcile.
func (h *Handlers) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	var body reconcileBody
	if err := decodeBody(r, &body); err != nil {
		renderError(w, err)
		return
	}
	out, err := h.svc.Reconcile(ops.ReconcileInput{Dir: body.Dir})
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleList handles GET /api/files.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	refresh, err := parseBool(q.Get("refresh"), false)
	if err != nil {
		renderError(w, errors.NewInvalidRequest("refresh must be a boolean"))
		return
	}

	out, err := h.svc.List(ops.ListInput{
		Name:    q.Get("name"),
		Comment: q.Get("comment"),
		Labels:  splitLabels(q.Get("labels")),
		Refresh: refresh,
	})
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleLabels handles GET /api/labels.
func (h *Handlers) HandleLabels(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Labels()
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleFetch handles GET /api/files/{name}.
func (h *Handlers) HandleFetch(w http.ResponseWriter, r *http.Request) {
	values, err := parseBool(r.URL.Query().Get("values"), true)
	if err != nil {
		renderError(w, errors.NewInvalidRequest("values must be a boolean"))
		return
	}

	out, err := h.svc.Fetch(ops.FetchInput{
		Name:          r.PathValue("name"),
		IncludeValues: &values,
	})
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleEdit handles PATCH /api/files/{name}.
func (h *Handlers) HandleEdit(w http.ResponseWriter, r *http.Request) {
	var body editBody
	if err := decodeBody(r, &body); err != nil {
		renderError(w, err)
		return
	}

	out, err := h.svc.EditMetadata(ops.EditInput{
		Name:    r.PathValue("name"),
		Comment: body.Comment,
		Labels:  body.Labels,
	})
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleDelete handles DELETE /api/files/{name}.
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	out, err := h.svc.Delete(ops.DeleteInput{Names: []string{name}})
	if err != nil {
		renderError(w, err)
		return
	}
	if len(out.Deleted) == 0 {
		renderError(w, errors.NewNotFound(name))
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleCompare handles GET /api/compare?a=&b=.
func (h *Handlers) HandleCompare(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	text, err := parseBool(q.Get("text"), false)
	if err != nil {
		renderError(w, errors.NewInvalidRequest("text must be a boolean"))
		return
	}

	out, err := h.svc.Compare(ops.CompareInput{A: q.Get("a"), B: q.Get("b"), Text: text})
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleRestore handles POST /api/restore.
func (h *Handlers) HandleRestore(w http.ResponseWriter, r *http.Request) {
	var body restoreBody
	if err := decodeBody(r, &body); err != nil {
		renderError(w, err)
		return
	}

	out, err := h.svc.Restore(r.Context(), ops.RestoreInput{
		Name:   body.Name,
		Items:  body.Items,
		Force:  body.Force,
		Macros: body.Macros,
	})
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleSave handles POST /api/save.
func (h *Handlers) HandleSave(w http.ResponseWriter, r *http.Request) {
	var body saveBody
	if err := decodeBody(r, &body); err != nil {
		renderError(w, err)
		return
	}

	out, err := h.svc.Save(r.Context(), ops.SaveInput{
		Name:      body.Name,
		Comment:   body.Comment,
		Labels:    body.Labels,
		Force:     body.Force,
		Overwrite: body.Overwrite,
		Macros:    body.Macros,
	})
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusCreated, out)
}

// splitLabels parses a comma-separated label list, dropping blanks.
func splitLabels(raw string) []string {
	if raw == "" {
		return nil
	}
	var labels []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			labels = append(labels, part)
		}
	}
	return labels
}

func parseBool(raw string, def bool) (bool, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.ParseBool(raw)
}
