package eventapi

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nuid"

	"github.com/eventbook/project/internal/app/events"
	"github.com/eventbook/project/internal/app/identity"
	platformauth "github.com/eventbook/project/internal/platform/auth"
	"github.com/eventbook/project/internal/platform/metrics"
)

const maxSignupFormBytes = 10 << 20

var (
	authRequestsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "eventbook_auth_requests_total",
		Help: "Auth endpoint calls by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	eventMutationsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "eventbook_event_mutations_total",
		Help: "Event mutations by action and outcome.",
	}, []string{"action", "outcome"})
)

func init() {
	metrics.Default.MustRegister(authRequestsTotal, eventMutationsTotal)
}

type Handler struct {
	Events        *events.Service
	Identity      *identity.Service
	UploadDir     string
	AllowedOrigin string
}

func NewHandler(eventsSvc *events.Service, identitySvc *identity.Service, uploadDir, allowedOrigin string) *Handler {
	return &Handler{
		Events:        eventsSvc,
		Identity:      identitySvc,
		UploadDir:     uploadDir,
		AllowedOrigin: allowedOrigin,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(h.corsMiddleware)
	r.Options("/*", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/api/auth/signup", h.handleSignup)
	r.Post("/api/auth/login", h.handleLogin)

	r.Group(func(authR chi.Router) {
		authR.Use(h.authMiddleware)
		authR.Get("/api/v1/events", h.handleListEvents)
		authR.Post("/api/v1/events", h.handleCreateEvent)
		authR.Get("/api/v1/events/{eventID}", h.handleGetEvent)
		authR.Put("/api/v1/events/{eventID}", h.handleUpdateEvent)
		authR.Delete("/api/v1/events/{eventID}", h.handleDeleteEvent)
	})

	return r
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type createEventRequest struct {
	Title    string    `json:"title"`
	Date     time.Time `json:"date"`
	Category string    `json:"category"`
}

type updateEventRequest struct {
	Title    *string    `json:"title"`
	Date     *time.Time `json:"date"`
	Category *string    `json:"category"`
}

// eventView is an event plus its display badge.
type eventView struct {
	events.Event
	Badge events.Badge `json:"badge"`
}

type listResponse struct {
	Events []eventView `json:"events"`
	Count  int         `json:"count"`
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxSignupFormBytes); err != nil {
		authRequestsTotal.WithLabelValues("signup", "error").Inc()
		h.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	photoPath, err := h.saveProfilePhoto(r)
	if err != nil {
		authRequestsTotal.WithLabelValues("signup", "error").Inc()
		h.writeError(w, http.StatusInternalServerError, "could not store profile photo")
		return
	}

	resp, err := h.Identity.Signup(r.Context(),
		r.FormValue("name"),
		r.FormValue("email"),
		r.FormValue("password"),
		photoPath,
	)
	if err != nil {
		authRequestsTotal.WithLabelValues("signup", "error").Inc()
		switch {
		case errors.Is(err, identity.ErrInvalidName),
			errors.Is(err, identity.ErrInvalidEmail),
			errors.Is(err, identity.ErrInvalidPassword):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, identity.ErrEmailTaken):
			h.writeError(w, http.StatusConflict, err.Error())
		default:
			h.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	authRequestsTotal.WithLabelValues("signup", "ok").Inc()
	h.writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		authRequestsTotal.WithLabelValues("login", "error").Inc()
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	resp, err := h.Identity.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		authRequestsTotal.WithLabelValues("login", "error").Inc()
		if errors.Is(err, identity.ErrInvalidCredentials) {
			h.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	authRequestsTotal.WithLabelValues("login", "ok").Inc()
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	criteria := events.Criteria{Search: r.URL.Query().Get("search")}

	if raw := strings.TrimSpace(r.URL.Query().Get("category")); raw != "" && raw != string(events.CategoryAll) {
		category, err := events.ParseCategory(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "unknown category")
			return
		}
		criteria.Category = category
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("on_date")); raw != "" {
		onDate, err := time.ParseInLocation("2006-01-02", raw, time.Local)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "on_date must be YYYY-MM-DD")
			return
		}
		criteria.OnDate = &onDate
	}

	list, err := h.Events.List(r.Context(), criteria)
	if err != nil {
		h.writeEventError(w, err)
		return
	}

	now := h.Events.Now()
	views := make([]eventView, 0, len(list))
	for _, e := range list {
		views = append(views, eventView{Event: e, Badge: events.BadgeFor(e, now)})
	}
	h.writeJSON(w, http.StatusOK, listResponse{Events: views, Count: len(views)})
}

func (h *Handler) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	created, err := h.Events.Create(r.Context(), events.Draft{
		Title:    req.Title,
		Date:     req.Date,
		Category: events.Category(req.Category),
	})
	if err != nil {
		eventMutationsTotal.WithLabelValues("create", "error").Inc()
		h.writeEventError(w, err)
		return
	}
	eventMutationsTotal.WithLabelValues("create", "ok").Inc()
	h.writeJSON(w, http.StatusCreated, eventView{Event: created, Badge: events.BadgeFor(created, h.Events.Now())})
}

func (h *Handler) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	e, err := h.Events.Get(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		h.writeEventError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, eventView{Event: e, Badge: events.BadgeFor(e, h.Events.Now())})
}

func (h *Handler) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	var req updateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	patch := events.Patch{Title: req.Title, Date: req.Date}
	if req.Category != nil {
		category := events.Category(*req.Category)
		patch.Category = &category
	}
	updated, err := h.Events.Update(r.Context(), chi.URLParam(r, "eventID"), patch)
	if err != nil {
		eventMutationsTotal.WithLabelValues("update", "error").Inc()
		h.writeEventError(w, err)
		return
	}
	eventMutationsTotal.WithLabelValues("update", "ok").Inc()
	h.writeJSON(w, http.StatusOK, eventView{Event: updated, Badge: events.BadgeFor(updated, h.Events.Now())})
}

func (h *Handler) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := h.Events.Delete(r.Context(), chi.URLParam(r, "eventID")); err != nil {
		eventMutationsTotal.WithLabelValues("delete", "error").Inc()
		h.writeEventError(w, err)
		return
	}
	eventMutationsTotal.WithLabelValues("delete", "ok").Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeEventError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, events.ErrTitleRequired),
		errors.Is(err, events.ErrDateRequired),
		errors.Is(err, events.ErrInvalidCategory):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, events.ErrEventNotFound):
		h.writeError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, events.ErrWriteFailed):
		h.writeError(w, http.StatusInternalServerError, "could not save events")
	default:
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) saveProfilePhoto(r *http.Request) (string, error) {
	file, header, err := r.FormFile("profilePhoto")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil
		}
		return "", err
	}
	defer file.Close()
	return h.storePhoto(file, header)
}

func (h *Handler) storePhoto(file multipart.File, header *multipart.FileHeader) (string, error) {
	dir := h.UploadDir
	if dir == "" {
		dir = "uploads"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := nuid.Next() + strings.ToLower(filepath.Ext(header.Filename))
	path := filepath.Join(dir, name)
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		return "", err
	}
	return path, nil
}

func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin, Access-Control-Request-Headers")
		allowed := strings.TrimSpace(h.AllowedOrigin)
		if allowed == "" {
			allowed = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", allowed)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")

		requestHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers"))
		if requestHeaders != "" {
			w.Header().Set("Access-Control-Allow-Headers", requestHeaders)
		} else {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := platformauth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			h.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if _, err := h.Identity.AuthToken.Parse(token); err != nil {
			h.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError uses a {message} envelope: that is the failure shape the mobile
// client reads.
func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"message": msg})
}
