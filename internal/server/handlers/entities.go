package handlers

import (
	"net/http"

	"github.com/agentstation/ratify/internal/ledger"
	"github.com/agentstation/ratify/internal/payload"
	"github.com/agentstation/ratify/internal/server/cache"
	"github.com/agentstation/ratify/internal/server/response"
	"github.com/agentstation/ratify/pkg/entity"
	"github.com/agentstation/ratify/pkg/errors"
	"github.com/agentstation/ratify/pkg/logging"
)

// HandleListEntities handles GET /projects/{project}/entities?kind=.
func (h *Handlers) HandleListEntities(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	kind := entity.Kind(r.URL.Query().Get("kind"))
	if kind != "" && !kind.Valid() {
		response.ErrorFrom(w, errors.NewValidationError("kind", kind, "unknown entity kind"))
		return
	}
	h.cached(w, cache.ProjectKey(project, "entities", string(kind)), func() (any, error) {
		return h.engine.Entities(r.Context(), project, kind)
	})
}

// HandleGetEntity handles GET /projects/{project}/entities/{kind}/{id}.
func (h *Handlers) HandleGetEntity(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	ref, err := entity.ParseRef(r.PathValue("kind") + "/" + r.PathValue("id"))
	if err != nil {
		response.ErrorFrom(w, err)
		return
	}
	h.cached(w, cache.ProjectKey(project, "entity", ref.String()), func() (any, error) {
		return h.engine.Entity(r.Context(), project, ref)
	})
}

// HandleEntityEvidence handles GET /projects/{project}/entities/{kind}/{id}/evidence.
func (h *Handlers) HandleEntityEvidence(w http.ResponseWriter, r *http.Request) {
	ref, err := entity.ParseRef(r.PathValue("kind") + "/" + r.PathValue("id"))
	if err != nil {
		response.ErrorFrom(w, err)
		return
	}
	entries, err := h.engine.Evidence(r.Context(), ledger.Query{ProjectID: r.PathValue("project"), Ref: &ref})
	if err != nil {
		response.ErrorFrom(w, err)
		return
	}
	response.OK(w, entries)
}

// HandleEdit handles POST /projects/{project}/entities, a direct canonical
// write outside any proposal.
func (h *Handlers) HandleEdit(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	var edit payload.Edit
	if !decodeJSON(w, r, &edit) {
		return
	}
	switch edit.ProjectID {
	case "":
		edit.ProjectID = project
	case project:
	default:
		response.ErrorFrom(w, projectMismatch(project, edit.ProjectID))
		return
	}
	m, err := edit.Mutation()
	if err != nil {
		response.ErrorFrom(w, err)
		return
	}
	res, err := h.engine.Edit(logging.WithProject(r.Context(), project), project, m)
	if err != nil {
		response.ErrorFrom(w, err)
		return
	}
	response.OK(w, res)
}
