package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/mail-pipeline/internal/domain"
	"github.com/ignite/mail-pipeline/internal/pkg/httputil"
	"github.com/ignite/mail-pipeline/internal/pkg/logger"
	"github.com/ignite/mail-pipeline/internal/scheduler"
)

type adminHandlers struct {
	admin    Admin
	enqueuer Enqueuer
}

// GET /admin/emails/stats
func (a *adminHandlers) stats(w http.ResponseWriter, r *http.Request) {
	st, err := a.admin.Stats(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, st)
}

// GET /admin/emails/scheduled?status=&type=&page=&limit=
func (a *adminHandlers) listScheduled(w http.ResponseWriter, r *http.Request) {
	f, page := listFilter(r)
	rows, total, err := a.admin.ListScheduled(r.Context(), f)
	if errors.Is(err, scheduler.ErrInvalidFilter) {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if rows == nil {
		rows = []domain.ScheduledEmail{}
	}
	httputil.OK(w, newPaginatedResponse(rows, f, page, total))
}

// GET /admin/emails/records?status=&type=&page=&limit=
func (a *adminHandlers) listRecords(w http.ResponseWriter, r *http.Request) {
	f, page := listFilter(r)
	rows, total, err := a.admin.ListRecords(r.Context(), f)
	if errors.Is(err, scheduler.ErrInvalidFilter) {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if rows == nil {
		rows = []domain.EmailRecord{}
	}
	httputil.OK(w, newPaginatedResponse(rows, f, page, total))
}

// DELETE /admin/emails/scheduled/{id}
func (a *adminHandlers) cancelScheduled(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := a.admin.CancelScheduled(r.Context(), id)
	switch {
	case err == nil:
		httputil.OK(w, map[string]bool{"cancelled": true})
	case errors.Is(err, scheduler.ErrNotFound):
		httputil.NotFound(w, "scheduled email not found")
	case errors.Is(err, scheduler.ErrNotCancellable):
		httputil.BadRequest(w, "scheduled email can no longer be cancelled")
	default:
		httputil.InternalError(w, err)
	}
}

// POST /admin/emails/send
func (a *adminHandlers) send(w http.ResponseWriter, r *http.Request) {
	var req domain.SendRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	res := a.enqueuer.Enqueue(r.Context(), &req)
	switch {
	case res.Suppressed:
		httputil.OK(w, res)
	case !res.Success:
		logger.Warn("admin send failed", "to", req.PrimaryRecipient(), "error", res.Error)
		httputil.JSON(w, http.StatusBadGateway, res)
	default:
		httputil.Accepted(w, res)
	}
}
