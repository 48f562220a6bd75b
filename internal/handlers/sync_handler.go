package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/moorlabs/driftsync/internal/models"
	"github.com/moorlabs/driftsync/internal/services"
	"github.com/sirupsen/logrus"
)

type Server struct {
	sync     *services.SyncService
	blobs    *services.BlobService
	auth     *services.AuthService
	verifier TokenVerifier
	logger   *logrus.Logger
}

func NewServer(
	sync *services.SyncService,
	blobs *services.BlobService,
	auth *services.AuthService,
	verifier TokenVerifier,
	logger *logrus.Logger,
) *Server {
	return &Server{
		sync:     sync,
		blobs:    blobs,
		auth:     auth,
		verifier: verifier,
		logger:   logger,
	}
}

// Router mounts the sync API.
func (s *Server) Router() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if s.auth != nil {
		router.Post("/v1/auth/login", s.handleLogin)
	}

	router.Route("/v1/projects/{projectID}", func(r chi.Router) {
		r.Use(Authenticate(s.verifier))
		r.Post("/sync/push", s.handlePush)
		r.Post("/sync/pull", s.handlePull)
		r.Post("/blobs/need-list", s.handleNeedList)
	})

	return router
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req services.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, models.CodeValidationFailed, "invalid JSON payload")
		return
	}

	resp, err := s.auth.Login(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidCredentials), errors.Is(err, services.ErrDeviceRevoked):
			writeError(w, http.StatusUnauthorized, models.CodeUnauthorized, err.Error())
		case errors.Is(err, services.ErrValidation):
			writeError(w, http.StatusBadRequest, models.CodeValidationFailed, err.Error())
		default:
			s.logger.Errorf("login failed: %v", err)
			writeError(w, http.StatusInternalServerError, models.CodeInternalError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, models.CodeUnauthorized, "no caller")
		return
	}

	var req models.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, models.CodeValidationFailed, "invalid JSON payload")
		return
	}

	resp, err := s.sync.Push(r.Context(), caller, req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, models.CodeUnauthorized, "no caller")
		return
	}

	var req models.PullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, models.CodeValidationFailed, "invalid JSON payload")
		return
	}

	resp, err := s.sync.Pull(r.Context(), caller, req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleNeedList(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, models.CodeUnauthorized, "no caller")
		return
	}

	var req models.NeedListRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, models.CodeValidationFailed, "invalid JSON payload")
		return
	}

	missing, err := s.blobs.NeedList(r.Context(), caller.TenantID, req.ContentIDs)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if missing == nil {
		missing = []string{}
	}
	writeJSON(w, http.StatusOK, models.NeedListResponse{Missing: missing})
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		writeError(w, http.StatusBadRequest, models.CodeValidationFailed, err.Error())
	case errors.Is(err, services.ErrTenantNotFound):
		writeError(w, http.StatusNotFound, models.CodeProjectNotFound, "project not found")
	default:
		s.logger.Errorf("request failed: %v", err)
		writeError(w, http.StatusInternalServerError, models.CodeInternalError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, models.ErrorResponse{Code: code, Message: message})
}
