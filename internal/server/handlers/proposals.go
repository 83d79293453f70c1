package handlers

import (
	"net/http"
	"strings"

	"github.com/agentstation/ratify/internal/ledger"
	"github.com/agentstation/ratify/internal/payload"
	"github.com/agentstation/ratify/internal/server/cache"
	"github.com/agentstation/ratify/internal/server/response"
	"github.com/agentstation/ratify/pkg/logging"
	"github.com/agentstation/ratify/pkg/proposal"
)

// HandleListProposals handles GET /projects/{project}/proposals.
// The optional status query takes a comma separated list.
func (h *Handlers) HandleListProposals(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	raw := splitList(r.URL.Query().Get("status"))
	statuses := make([]proposal.Status, 0, len(raw))
	for _, s := range raw {
		st, err := proposal.ParseStatus(s)
		if err != nil {
			response.BadRequest(w, err.Error())
			return
		}
		statuses = append(statuses, st)
	}

	key := cache.ProjectKey(project, "proposals", strings.Join(raw, ","))
	h.cached(w, key, func() (any, error) {
		ps, err := h.engine.List(r.Context(), project, statuses...)
		if err != nil {
			return nil, err
		}
		out := make([]proposal.Summary, len(ps))
		for i, p := range ps {
			out[i] = p.Summarize()
		}
		return out, nil
	})
}

// HandleSubmit handles POST /projects/{project}/proposals. The body is a
// proposal document in JSON, or YAML when the content type says so.
func (h *Handlers) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	format := payload.FormatJSON
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		format = payload.FormatYAML
	}
	p, err := payload.ReadProposal(http.MaxBytesReader(w, r.Body, maxBody), format, "request body")
	if err != nil {
		response.ErrorFrom(w, err)
		return
	}
	switch p.ProjectID {
	case "":
		p.ProjectID = project
	case project:
	default:
		response.ErrorFrom(w, projectMismatch(project, p.ProjectID))
		return
	}

	res, err := h.engine.Submit(logging.WithProject(r.Context(), project), p)
	if err != nil {
		response.ErrorFrom(w, err)
		return
	}
	response.Created(w, res)
}

// HandleEligible handles GET /projects/{project}/proposals/eligible.
func (h *Handlers) HandleEligible(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	h.cached(w, cache.ProjectKey(project, "eligible"), func() (any, error) {
		ps, err := h.engine.Eligible(r.Context(), project)
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(ps))
		for i, p := range ps {
			ids[i] = p.ID
		}
		return map[string]any{"ids": ids}, nil
	})
}

// HandleBatchApply handles POST /projects/{project}/proposals/batch-apply.
// Per-id failures are reported in the outcomes; the request itself succeeds.
func (h *Handlers) HandleBatchApply(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := logging.WithProject(r.Context(), r.PathValue("project"))
	response.OK(w, h.engine.BatchApply(ctx, req.IDs))
}

// HandleBatchDiscard handles POST /projects/{project}/proposals/batch-discard.
func (h *Handlers) HandleBatchDiscard(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := logging.WithProject(r.Context(), r.PathValue("project"))
	response.OK(w, h.engine.BatchDiscard(ctx, req.IDs))
}

// HandleGetProposal handles GET /proposals/{id}.
func (h *Handlers) HandleGetProposal(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h.cached(w, cache.ProposalKey(id), func() (any, error) {
		return h.engine.Get(r.Context(), id)
	})
}

// HandleApply handles POST /proposals/{id}/apply.
func (h *Handlers) HandleApply(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Apply(logging.WithProposal(r.Context(), r.PathValue("id")), r.PathValue("id"))
	if err != nil {
		response.ErrorFrom(w, err)
		return
	}
	response.OK(w, res)
}

// HandleDiscard handles POST /proposals/{id}/discard.
func (h *Handlers) HandleDiscard(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Discard(logging.WithProposal(r.Context(), r.PathValue("id")), r.PathValue("id"))
	if err != nil {
		response.ErrorFrom(w, err)
		return
	}
	response.OK(w, res)
}

// HandlePreview handles POST /proposals/{id}/preview.
func (h *Handlers) HandlePreview(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Preview(logging.WithProposal(r.Context(), r.PathValue("id")), r.PathValue("id"))
	if err != nil {
		response.ErrorFrom(w, err)
		return
	}
	response.OK(w, res)
}

// HandleDetect handles GET /proposals/{id}/contradictions.
func (h *Handlers) HandleDetect(w http.ResponseWriter, r *http.Request) {
	cs, err := h.engine.Detect(r.Context(), r.PathValue("id"))
	if err != nil {
		response.ErrorFrom(w, err)
		return
	}
	response.OK(w, cs)
}

// HandleProposalEvidence handles GET /proposals/{id}/evidence.
func (h *Handlers) HandleProposalEvidence(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, err := h.engine.Get(r.Context(), id)
	if err != nil {
		response.ErrorFrom(w, err)
		return
	}
	entries, err := h.engine.Evidence(r.Context(), ledger.Query{ProjectID: p.ProjectID, ProposalID: id})
	if err != nil {
		response.ErrorFrom(w, err)
		return
	}
	response.OK(w, entries)
}
