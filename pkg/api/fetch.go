package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	errs "igcollector/pkg/errors"
	"igcollector/pkg/models"
	"igcollector/pkg/scraper"
)

type fetchRequest struct {
	Target string            `json:"target"`
	Kind   models.TargetKind `json:"kind"`
}

type searchRequest struct {
	Hashtags     []string `json:"hashtags"`
	AmountPerTag int      `json:"amount_per_tag"`
}

// SubmitFetch queues a fetch and answers with the job to poll
func (h *Handler) SubmitFetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if req.Kind == "" {
		req.Kind = models.TargetProfile
	}
	target := models.Target{Kind: req.Kind, Name: req.Target}
	if err := target.Validate(); err != nil {
		h.fail(w, errs.Wrap(errs.ErrorTypeInvalidInput, "invalid target", err))
		return
	}

	job, err := h.jobs.Submit(target)
	if err != nil {
		h.fail(w, err)
		return
	}

	location := "/jobs/" + job.ID
	w.Header().Set("Location", location)
	JSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":   job.ID,
		"status":   job.State,
		"location": location,
	})
}

// GetJob returns the state of a queued fetch and its result once done
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	JSON(w, http.StatusOK, job)
}

// SearchHashtags fetches several hashtags and waits for all of them
func (h *Handler) SearchHashtags(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if len(req.Hashtags) == 0 {
		h.fail(w, errs.New(errs.ErrorTypeInvalidInput, "at least one hashtag is required"))
		return
	}
	if req.AmountPerTag < 0 {
		h.fail(w, errs.New(errs.ErrorTypeInvalidInput, "amount_per_tag must not be negative"))
		return
	}

	batch := h.fetcher.SearchHashtags(r.Context(), req.Hashtags, req.AmountPerTag)
	status := http.StatusOK
	if batch.Status == scraper.StatusFailed {
		status = http.StatusBadGateway
	}
	JSON(w, status, batch)
}
