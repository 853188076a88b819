package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	errs "igcollector/pkg/errors"
	"igcollector/pkg/models"
)

// ListContent pages through the stored records, most recently fetched first
func (h *Handler) ListContent(w http.ResponseWriter, r *http.Request) {
	offset, limit, err := paging(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	records, total, err := h.store.ListContentRecords(r.Context(), offset, limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	if records == nil {
		records = []models.ContentRecord{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"offset":  offset,
		"limit":   limit,
		"total":   total,
	})
}

// GetContent pages through the items of one target
func (h *Handler) GetContent(w http.ResponseWriter, r *http.Request) {
	target := models.Target{
		Kind: models.TargetKind(chi.URLParam(r, "kind")),
		Name: chi.URLParam(r, "name"),
	}
	if err := target.Validate(); err != nil {
		h.fail(w, errs.Wrap(errs.ErrorTypeInvalidInput, "invalid target", err))
		return
	}
	offset, limit, err := paging(r)
	if err != nil {
		h.fail(w, err)
		return
	}

	items, total, err := h.store.GetContentItems(r.Context(), target, offset, limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"target":   target,
		"items":    items,
		"offset":   offset,
		"limit":    limit,
		"total":    total,
		"has_more": offset+len(items) < total,
	})
}

// DeleteContent removes a record and its items
func (h *Handler) DeleteContent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := h.store.DeleteContentRecord(r.Context(), id); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
