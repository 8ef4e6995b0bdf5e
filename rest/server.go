package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	api "github.com/prochestra/prochestra/api/v1"
	"github.com/prochestra/prochestra/definition"
	"github.com/prochestra/prochestra/logger"
	"github.com/prochestra/prochestra/model"
	"github.com/prochestra/prochestra/persistence"
	"github.com/prochestra/prochestra/service"
	"go.uber.org/zap"
)

type Server struct {
	http.Server
	Port        int
	executions  *service.ExecutionService
	definitions *definition.Service
}

func NewServer(httpPort int, executions *service.ExecutionService, definitions *definition.Service) (*Server, error) {
	s := &Server{
		Server: http.Server{
			Addr: fmt.Sprintf(":%d", httpPort),
		},
		executions:  executions,
		definitions: definitions,
		Port:        httpPort,
	}
	s.Handler = s.router()
	return s, nil
}

func (s *Server) router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/definition", s.HandleRegisterDefinition).Methods(http.MethodPost)
	router.HandleFunc("/definition/{id}", s.HandleGetDefinition).Methods(http.MethodGet)
	router.HandleFunc("/execution", s.HandleCreateExecution).Methods(http.MethodPost)
	router.HandleFunc("/execution", s.HandleListExecutions).Methods(http.MethodGet)
	router.HandleFunc("/execution/{id}", s.HandleGetExecution).Methods(http.MethodGet)
	router.HandleFunc("/execution/{id}/cancel", s.HandleCancelExecution).Methods(http.MethodPost)
	router.HandleFunc("/execution/{id}/retry", s.HandleRetryExecution).Methods(http.MethodPost)
	router.HandleFunc("/execution/{id}/approve/{stepId}", s.HandleApproveStep).Methods(http.MethodPost)
	router.Use(loggingMiddleware)
	return router
}

func (s *Server) Start() error {
	logger.Info("starting http server on", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.Shutdown(ctx)
	if err != nil {
		logger.Error("error shutting down http server")
	}
	return nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info(r.RequestURI)
		next.ServeHTTP(w, r)
	})
}

// callerFromRequest trusts the identity headers set by the authenticating
// front layer.
func callerFromRequest(r *http.Request) (model.Caller, bool) {
	id := r.Header.Get("X-Caller-Id")
	role, ok := model.ToRole(r.Header.Get("X-Caller-Role"))
	if id == "" || !ok {
		return model.Caller{}, false
	}
	return model.Caller{Id: id, Role: role}, true
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondServiceError maps the service error taxonomy onto http statuses.
func respondServiceError(w http.ResponseWriter, err error) {
	var validation api.ValidationError
	var permission api.PermissionError
	var conflict api.ConflictError
	var notFound persistence.NotFoundError
	switch {
	case errors.As(err, &validation):
		respondWithError(w, http.StatusBadRequest, validation.Message)
	case errors.As(err, &permission):
		respondWithError(w, http.StatusForbidden, permission.Error())
	case errors.As(err, &notFound):
		respondWithError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &conflict):
		respondWithError(w, http.StatusConflict, conflict.Error())
	default:
		respondWithError(w, http.StatusInternalServerError, "internal error")
	}
}
