package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/clinvault/clinvault/internal/anomaly"
	"github.com/clinvault/clinvault/internal/common"
	"github.com/clinvault/clinvault/internal/logging"
	"github.com/clinvault/clinvault/internal/server/audit"
	"github.com/clinvault/clinvault/internal/server/cache"
	"github.com/clinvault/clinvault/internal/server/models"
	"github.com/clinvault/clinvault/internal/server/services"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers holds the request handlers and their collaborators.
type Handlers struct {
	log            logging.Logger
	users          *services.UserService
	tokens         *services.TokenService
	patients       *services.PatientService
	recorder       *audit.Recorder
	detector       *anomaly.Detector
	denylist       *cache.Denylist
	jwtSecret      []byte
	blockAnomalies bool
}

// HandlersOptions configures NewHandlers.
type HandlersOptions struct {
	Users          *services.UserService
	Tokens         *services.TokenService
	Patients       *services.PatientService
	Recorder       *audit.Recorder
	Detector       *anomaly.Detector
	Denylist       *cache.Denylist
	JWTSecret      []byte
	BlockAnomalies bool
}

func NewHandlers(opts HandlersOptions, log logging.Logger) *Handlers {
	return &Handlers{
		log:            log,
		users:          opts.Users,
		tokens:         opts.Tokens,
		patients:       opts.Patients,
		recorder:       opts.Recorder,
		detector:       opts.Detector,
		denylist:       opts.Denylist,
		jwtSecret:      opts.JWTSecret,
		blockAnomalies: opts.BlockAnomalies,
	}
}

// Router assembles the route tree. Login and token refresh authenticate by
// credential or refresh token respectively; everything else under /api
// requires a bearer access token.
func (h *Handlers) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(metricsMiddleware)
	r.Use(h.anomalyMiddleware)

	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/api/login", h.login)
	r.Post("/api/token/refresh", h.refresh)

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware)
		r.Post("/api/token/revoke", h.revoke)
		r.Post("/api/patients", h.createPatient)
		r.Get("/api/patients/{id}", h.getPatient)
		r.Put("/api/patients/{id}", h.updatePatient)
		r.Get("/api/patients", h.findPatient)
	})

	return r
}

type credentialsRequest struct {
	UserName string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type patientRequest struct {
	Ward      string            `json:"ward"`
	Attending string            `json:"attending"`
	Fields    map[string]string `json:"fields"`
}

type patientResponse struct {
	ID          string            `json:"id"`
	Ward        string            `json:"ward"`
	Attending   string            `json:"attending"`
	Fields      map[string]string `json:"fields"`
	FieldErrors []string          `json:"field_errors,omitempty"`
}

func (h *Handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}

	pair, err := h.users.Login(r.Context(), req.UserName, req.Password, requestContext(r))
	if err != nil {
		if errors.Is(err, common.ErrorUnauthorized) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.internalError(w, r, "login", err)
		return
	}

	writeJSON(w, http.StatusOK, tokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (h *Handlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}

	pair, err := h.tokens.Rotate(r.Context(), req.RefreshToken, requestContext(r))
	if err != nil {
		switch {
		case errors.Is(err, common.ErrTokenInvalid),
			errors.Is(err, common.ErrTokenExpired),
			errors.Is(err, common.ErrTokenRevoked):
			// one answer for every rejection
			writeError(w, http.StatusUnauthorized, "session invalid")
		default:
			h.internalError(w, r, "token refresh", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, tokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (h *Handlers) revoke(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	if err := h.tokens.Revoke(r.Context(), claims.ID, requestContext(r)); err != nil {
		h.internalError(w, r, "token revoke", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) createPatient(w http.ResponseWriter, r *http.Request) {
	var req patientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}

	patient := &models.Patient{
		Ward:      req.Ward,
		Attending: req.Attending,
		Protected: req.Fields,
	}
	created, err := h.patients.Create(r.Context(), patient, h.actor(r), requestContext(r))
	if err != nil {
		h.internalError(w, r, "patient create", err)
		return
	}

	writeJSON(w, http.StatusCreated, patientResponse{
		ID:        created.ID,
		Ward:      created.Ward,
		Attending: created.Attending,
		Fields:    created.Protected,
	})
}

func (h *Handlers) getPatient(w http.ResponseWriter, r *http.Request) {
	rec, err := h.patients.Get(r.Context(), chi.URLParam(r, "id"), h.actor(r), requestContext(r))
	if err != nil {
		h.patientError(w, r, "patient read", err)
		return
	}
	writeJSON(w, http.StatusOK, patientToResponse(rec))
}

func (h *Handlers) findPatient(w http.ResponseWriter, r *http.Request) {
	nationalID := r.URL.Query().Get("national_id")
	if nationalID == "" {
		writeError(w, http.StatusBadRequest, "national_id is required")
		return
	}

	rec, err := h.patients.FindByNationalID(r.Context(), nationalID, h.actor(r), requestContext(r))
	if err != nil {
		h.patientError(w, r, "patient lookup", err)
		return
	}
	writeJSON(w, http.StatusOK, patientToResponse(rec))
}

func (h *Handlers) updatePatient(w http.ResponseWriter, r *http.Request) {
	var req patientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}

	patient := &models.Patient{
		ID:        chi.URLParam(r, "id"),
		Ward:      req.Ward,
		Attending: req.Attending,
		Protected: req.Fields,
	}
	if err := h.patients.Update(r.Context(), patient, h.actor(r), requestContext(r)); err != nil {
		h.patientError(w, r, "patient update", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) actor(r *http.Request) services.Actor {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		return services.Actor{}
	}
	return services.Actor{ID: claims.UserID, Role: claims.Role}
}

func (h *Handlers) patientError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, common.ErrorNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	h.internalError(w, r, op, err)
}

func (h *Handlers) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.log.Error(r.Context(), op+" failed", "error", err.Error())
	writeError(w, http.StatusInternalServerError, "internal error")
}

func patientToResponse(rec *services.PatientRecord) patientResponse {
	resp := patientResponse{
		ID:        rec.Patient.ID,
		Ward:      rec.Patient.Ward,
		Attending: rec.Patient.Attending,
		Fields:    rec.Patient.Protected,
	}
	for name := range rec.FieldErrors {
		resp.FieldErrors = append(resp.FieldErrors, name)
	}
	sort.Strings(resp.FieldErrors)
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
