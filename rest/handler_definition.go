package rest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/prochestra/prochestra/logger"
	"github.com/prochestra/prochestra/model"
)

func (s *Server) HandleRegisterDefinition(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "caller identity required")
		return
	}
	if caller.Role == model.ROLE_VIEWER {
		respondWithError(w, http.StatusForbidden, "viewers can not register definitions")
		return
	}
	var def model.ProcessDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed definition body")
		return
	}
	defer r.Body.Close()
	saved, err := s.definitions.Register(&def)
	if err != nil {
		logger.Error("error registering definition", zap.String("id", def.Id), zap.Error(err))
		respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, saved)
}

func (s *Server) HandleGetDefinition(w http.ResponseWriter, r *http.Request) {
	if _, ok := callerFromRequest(r); !ok {
		respondWithError(w, http.StatusUnauthorized, "caller identity required")
		return
	}
	vars := mux.Vars(r)
	id := vars["id"]
	version := 0
	if raw := r.URL.Query().Get("version"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "version must be an integer")
			return
		}
		version = parsed
	}
	def, err := s.definitions.Get(id, version)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, def)
}
