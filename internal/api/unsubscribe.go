package api

import (
	"errors"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/mail-pipeline/internal/domain"
	"github.com/ignite/mail-pipeline/internal/pkg/logger"
	"github.com/ignite/mail-pipeline/internal/service/preferences"
)

var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body style="font-family:Arial,sans-serif;max-width:480px;margin:40px auto;padding:0 16px;">
<h1>{{.Title}}</h1>
{{if .Message}}<p>{{.Message}}</p>{{end}}
{{with .Prefs}}
<form method="post" action="/unsubscribe/{{$.Token}}">
  <p><label><input type="checkbox" name="marketing" value="on"{{if .Marketing}} checked{{end}}> News and offers</label></p>
  <p><label><input type="checkbox" name="notifications" value="on"{{if .Notifications}} checked{{end}}> Account notifications</label></p>
  <p><label><input type="checkbox" name="job_alerts" value="on"{{if .JobAlerts}} checked{{end}}> Job alerts</label></p>
  <p><label><input type="checkbox" name="quote_updates" value="on"{{if .QuoteUpdates}} checked{{end}}> Quote updates</label></p>
  <p><button type="submit">Save preferences</button>
     <button type="submit" name="action" value="unsubscribe_all">Unsubscribe from all</button></p>
</form>
<p style="color:#666;font-size:12px;">Account and security emails are always sent.</p>
{{end}}
</body></html>`))

type pageData struct {
	Title   string
	Message string
	Token   string
	Prefs   *domain.EmailPreferences
}

type unsubscribeHandlers struct {
	prefs Preferences
}

func renderPage(w http.ResponseWriter, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := pageTmpl.Execute(w, data); err != nil {
		logger.Error("render unsubscribe page", "error", err)
	}
}

func renderFailure(w http.ResponseWriter, err error) {
	if errors.Is(err, preferences.ErrNotFound) {
		renderPage(w, http.StatusNotFound, pageData{
			Title:   "Link not recognised",
			Message: "This link is invalid or has expired. Use the link from a recent email to manage your preferences.",
		})
		return
	}
	logger.Error("unsubscribe request failed", "error", err)
	renderPage(w, http.StatusInternalServerError, pageData{
		Title:   "Something went wrong",
		Message: "We could not update your preferences right now. Please try again in a few minutes.",
	})
}

// GET /unsubscribe/{token}
func (u *unsubscribeHandlers) show(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	p, err := u.prefs.GetByToken(r.Context(), token)
	if err != nil {
		renderFailure(w, err)
		return
	}
	renderPage(w, http.StatusOK, pageData{Title: "Email preferences", Token: token, Prefs: p})
}

// POST /unsubscribe/{token}
//
// A form post carries every toggle; unchecked boxes are absent and mean off.
func (u *unsubscribeHandlers) update(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if err := r.ParseForm(); err != nil {
		renderPage(w, http.StatusBadRequest, pageData{Title: "Something went wrong", Message: "The form could not be read."})
		return
	}

	var (
		p   *domain.EmailPreferences
		err error
		msg string
	)
	if r.PostForm.Get("action") == "unsubscribe_all" {
		p, err = u.prefs.UnsubscribeAll(r.Context(), token)
		msg = "You have been unsubscribed from all optional emails."
	} else {
		on := func(k string) *bool {
			v := r.PostForm.Get(k) == "on"
			return &v
		}
		p, err = u.prefs.UpdatePreferences(r.Context(), token, domain.PreferenceUpdate{
			Marketing:     on("marketing"),
			Notifications: on("notifications"),
			JobAlerts:     on("job_alerts"),
			QuoteUpdates:  on("quote_updates"),
		})
		msg = "Your preferences have been saved."
	}
	if err != nil {
		renderFailure(w, err)
		return
	}
	renderPage(w, http.StatusOK, pageData{Title: "Email preferences", Message: msg, Token: token, Prefs: p})
}

// POST /unsubscribe/{token}/one-click
//
// List-Unsubscribe-Post target (RFC 8058). Mail clients post
// "List-Unsubscribe=One-Click" without user interaction.
func (u *unsubscribeHandlers) oneClick(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if _, err := u.prefs.UnsubscribeAll(r.Context(), token); err != nil {
		renderFailure(w, err)
		return
	}
	renderPage(w, http.StatusOK, pageData{
		Title:   "You have been unsubscribed",
		Message: "You will no longer receive optional emails from us. Account and security emails are still sent.",
	})
}
