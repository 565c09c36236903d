package httpserver

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v2"
	"github.com/go-chi/render"
	"github.com/skip2/go-qrcode"

	"ttlpaste/internal/paste"
	"ttlpaste/internal/storage"
)

const notFoundMessage = "paste not found"

type createResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type fetchResponse struct {
	Content        string     `json:"content"`
	RemainingViews *int64     `json:"remaining_views"`
	ExpiresAt      *time.Time `json:"expires_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type indexPageData struct {
	Content    string
	TTLSeconds string
	MaxViews   string
	Error      string
	MaxBytes   int
}

type createdPageData struct {
	ID           string
	URL          string
	QRCode       template.URL
	ExpiresIn    string
	ViewsAllowed string
}

type viewPageData struct {
	ID             string
	Content        string
	ExpiresIn      string
	RemainingViews string
}

type errorPageData struct {
	Message string
}

type titled interface {
	PageTitle() string
}

func (d indexPageData) PageTitle() string {
	return "New Paste · ttlpaste"
}

func (d createdPageData) PageTitle() string {
	return "Paste Created · ttlpaste"
}

func (d viewPageData) PageTitle() string {
	if d.ID != "" {
		return fmt.Sprintf("%s · ttlpaste", d.ID)
	}
	return "View Paste · ttlpaste"
}

func (d errorPageData) PageTitle() string {
	if d.Message == "" {
		return "ttlpaste"
	}
	return d.Message + " · ttlpaste"
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "index", indexPageData{MaxBytes: s.maxBytes})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Healthcheck(r.Context()); err != nil {
		s.logger.Error("healthcheck failed", "error", err)
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, healthResponse{OK: false, Error: paste.ErrStorageUnavailable.Error()})
		return
	}
	render.JSON(w, r, healthResponse{OK: true})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if isJSONRequest(r) {
		s.createJSON(w, r)
		return
	}
	s.createForm(w, r)
}

func (s *Server) createJSON(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeJSON(w, r)
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	p, err := s.svc.Create(r.Context(), req)
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, createResponse{ID: p.ID, URL: s.canonicalURL(r, p.ID)})
}

// createForm answers in JSON when the client asks for it; browsers posting
// the index form get HTML pages.
func (s *Server) createForm(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeForm(w, r)
	if render.GetAcceptedContentType(r) == render.ContentTypeJSON {
		if err == nil {
			var p *storage.Paste
			if p, err = s.svc.Create(r.Context(), req); err == nil {
				render.Status(r, http.StatusCreated)
				render.JSON(w, r, createResponse{ID: p.ID, URL: s.canonicalURL(r, p.ID)})
				return
			}
		}
		s.apiError(w, r, err)
		return
	}
	if err == nil {
		var p *storage.Paste
		if p, err = s.svc.Create(r.Context(), req); err == nil {
			s.renderCreated(w, r, p)
			return
		}
	}
	if !errors.Is(err, paste.ErrInvalidArgument) {
		s.serverError(w, r, err)
		return
	}
	s.render(w, r, http.StatusBadRequest, "index", indexPageData{
		Content:    r.PostFormValue("content"),
		TTLSeconds: r.PostFormValue("ttl_seconds"),
		MaxViews:   r.PostFormValue("max_views"),
		Error:      errorMessage(err),
		MaxBytes:   s.maxBytes,
	})
}

func (s *Server) renderCreated(w http.ResponseWriter, r *http.Request, p *storage.Paste) {
	link := s.canonicalURL(r, p.ID)
	data := createdPageData{
		ID:           p.ID,
		URL:          link,
		ExpiresIn:    remaining(p.ExpiresAt, p.CreatedAt),
		ViewsAllowed: "Unlimited",
	}
	if p.MaxViews != nil {
		data.ViewsAllowed = strconv.FormatInt(*p.MaxViews, 10)
	}
	if png, err := qrcode.Encode(link, qrcode.Medium, 256); err != nil {
		s.logger.Warn("encode qr code", "error", err, "id", p.ID)
	} else {
		data.QRCode = template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png))
	}
	s.render(w, r, http.StatusCreated, "created", data)
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.FetchAndConsume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	render.JSON(w, r, fetchResponse{
		Content:        c.Content,
		RemainingViews: c.RemainingViews,
		ExpiresAt:      c.ExpiresAt,
	})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.FetchAndConsume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, paste.ErrNotFound) {
			s.notFound(w, r)
			return
		}
		s.serverError(w, r, err)
		return
	}

	data := viewPageData{
		ID:             c.ID,
		Content:        c.Content,
		ExpiresIn:      remaining(c.ExpiresAt, s.svc.Now(r.Context())),
		RemainingViews: "Unlimited",
	}
	if c.RemainingViews != nil {
		data.RemainingViews = strconv.FormatInt(*c.RemainingViews, 10)
	}
	w.Header().Set("Cache-Control", "no-store")
	s.render(w, r, http.StatusOK, "view", data)
}

func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.FetchAndConsume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, paste.ErrNotFound) {
			s.notFound(w, r)
			return
		}
		s.serverError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	_, _ = io.WriteString(w, c.Content)
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	title := "ttlpaste"
	if t, ok := data.(titled); ok {
		if pt := t.PageTitle(); pt != "" {
			title = pt
		}
	}
	body := &bytes.Buffer{}
	bodyTemplate := name + "-body"
	if err := s.templates.ExecuteTemplate(body, bodyTemplate, data); err != nil {
		s.handleTemplateError(w, status, bodyTemplate, err)
		return
	}
	layoutBuf := &bytes.Buffer{}
	layoutData := struct {
		Title string
		Body  template.HTML
	}{
		Title: title,
		Body:  template.HTML(body.String()),
	}
	if err := s.templates.ExecuteTemplate(layoutBuf, "layout", layoutData); err != nil {
		s.handleTemplateError(w, status, "layout", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = layoutBuf.WriteTo(w)
}

func (s *Server) handleTemplateError(w http.ResponseWriter, status int, name string, err error) {
	s.logger.Error("render template", "error", err, "template", name)
	http.Error(w, "Template error", status)
}

// apiError maps service errors onto JSON responses.
func (s *Server) apiError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, paste.ErrInvalidArgument):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: errorMessage(err)})
	case errors.Is(err, paste.ErrNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, errorResponse{Error: notFoundMessage})
	default:
		s.logInternal(r, err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{Error: "internal server error"})
	}
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	s.logInternal(r, err)
	s.render(w, r, http.StatusInternalServerError, "error", errorPageData{Message: "Internal server error"})
}

func (s *Server) logInternal(r *http.Request, err error) {
	httplog.LogEntrySetFields(r.Context(), map[string]any{"err": err.Error()})
	s.logger.Error("internal error", "error", err, "request_id", middleware.GetReqID(r.Context()))
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	if isAPIRequest(r) {
		s.apiNotFound(w, r)
		return
	}
	s.render(w, r, http.StatusNotFound, "error", errorPageData{Message: "Not found or expired"})
}

func (s *Server) apiNotFound(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusNotFound)
	render.JSON(w, r, errorResponse{Error: "not found"})
}

func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	if isAPIRequest(r) {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: msg})
		return
	}
	s.render(w, r, http.StatusBadRequest, "error", errorPageData{Message: msg})
}

// errorMessage returns the client-facing text for a validation error.
func errorMessage(err error) string {
	var iae *paste.InvalidArgumentError
	if errors.As(err, &iae) {
		return iae.Error()
	}
	return paste.ErrInvalidArgument.Error()
}

func remaining(expires *time.Time, now time.Time) string {
	if expires == nil {
		return "Never"
	}
	if !now.Before(*expires) {
		return "Expired"
	}
	dur := expires.Sub(now)
	if dur < time.Second {
		return "Less than a second"
	}
	units := []struct {
		d    time.Duration
		name string
	}{
		{time.Hour * 24, "day"},
		{time.Hour, "hour"},
		{time.Minute, "minute"},
	}
	parts := make([]string, 0, len(units))
	for _, u := range units {
		if dur >= u.d {
			count := dur / u.d
			parts = append(parts, plural(int(count), u.name))
			dur -= count * u.d
		}
	}
	if len(parts) == 0 {
		seconds := int(dur.Seconds())
		if seconds <= 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", seconds)
	}
	return strings.Join(parts, ", ")
}

func plural(count int, singular string) string {
	if count == 1 {
		return fmt.Sprintf("1 %s", singular)
	}
	return fmt.Sprintf("%d %ss", count, singular)
}
