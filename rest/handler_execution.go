package rest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/prochestra/prochestra/logger"
	"github.com/prochestra/prochestra/model"
	"github.com/prochestra/prochestra/persistence"
)

func (s *Server) HandleCreateExecution(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "caller identity required")
		return
	}
	var req model.ExecutionRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed execution request")
		return
	}
	defer r.Body.Close()
	execution, err := s.executions.Create(caller, req)
	if err != nil {
		logger.Error("error creating execution", zap.String("processId", req.ProcessId), zap.Error(err))
		respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, execution)
}

func (s *Server) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "caller identity required")
		return
	}
	detail, err := s.executions.Get(caller, mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, detail)
}

func (s *Server) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "caller identity required")
		return
	}
	filter := persistence.ListFilter{
		Status:    model.ExecutionStatus(r.URL.Query().Get("status")),
		ProcessId: r.URL.Query().Get("processId"),
	}
	var err error
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		respondWithError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	if filter.Offset, err = queryInt(r, "offset"); err != nil {
		respondWithError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}
	page, err := s.executions.List(caller, filter)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, page)
}

func (s *Server) HandleCancelExecution(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "caller identity required")
		return
	}
	executionId := mux.Vars(r)["id"]
	execution, err := s.executions.Cancel(caller, executionId)
	if err != nil {
		logger.Info("cancel rejected", zap.String("executionId", executionId), zap.Error(err))
		respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, execution)
}

func (s *Server) HandleRetryExecution(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "caller identity required")
		return
	}
	executionId := mux.Vars(r)["id"]
	retry, err := s.executions.Retry(caller, executionId)
	if err != nil {
		logger.Info("retry rejected", zap.String("executionId", executionId), zap.Error(err))
		respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, retry)
}

func (s *Server) HandleApproveStep(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "caller identity required")
		return
	}
	vars := mux.Vars(r)
	execution, err := s.executions.ApproveStep(caller, vars["id"], vars["stepId"])
	if err != nil {
		logger.Info("approval rejected", zap.String("executionId", vars["id"]),
			zap.String("stepId", vars["stepId"]), zap.Error(err))
		respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, execution)
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
