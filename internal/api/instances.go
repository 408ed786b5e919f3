package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"scanbrain/internal/geo"
	"scanbrain/internal/model"
)

// InstancesHandler serves GET /v1/instances.
func (s *Server) InstancesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"instances": s.reg.Status(r.Context())})
}

// ReloadHandler serves POST /v1/instances/{name}/reload.
func (s *Server) ReloadHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.reg.Reload(r.Context(), name); err != nil {
		s.registryProblem(w, r, err)
		return
	}
	s.log.Info("instance reloaded", "instance", name)
	w.WriteHeader(http.StatusNoContent)
}

type scanNextRequest struct {
	Coords []geo.Coord `json:"coords"`
}

// ScanNextHandler serves POST /v1/instances/{name}/scan-next.
func (s *Server) ScanNextHandler(w http.ResponseWriter, r *http.Request) {
	var req scanNextRequest
	if err := readJSON(w, r, &req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	if err := validateCoords(req.Coords); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "Invalid coordinates", err.Error())
		return
	}
	if err := s.reg.ScanNext(chi.URLParam(r, "name"), req.Coords); err != nil {
		s.registryProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"queued": len(req.Coords)})
}

// DevicesHandler serves GET /v1/devices.
func (s *Server) DevicesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"devices": s.devices.list()})
}

type assignRequest struct {
	Instance string `json:"instance"`
}

// AssignDeviceHandler serves PUT /v1/devices/{uuid}.
func (s *Server) AssignDeviceHandler(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := readJSON(w, r, &req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	uuid := chi.URLParam(r, "uuid")
	if err := s.reg.AssignDevice(uuid, req.Instance); err != nil {
		s.registryProblem(w, r, err)
		return
	}
	s.log.Info("device assigned", "uuid", uuid, "instance", req.Instance)
	w.WriteHeader(http.StatusNoContent)
}

// IngestPokemonHandler serves POST /v1/ingest/pokemon with a JSON array.
func (s *Server) IngestPokemonHandler(w http.ResponseWriter, r *http.Request) {
	var mons []model.Pokemon
	if err := readJSON(w, r, &mons); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	for _, p := range mons {
		s.reg.GotPokemon(p)
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(mons)})
}

type fortsRequest struct {
	Username  string           `json:"username"`
	Pokestops []model.Pokestop `json:"pokestops"`
}

// IngestFortsHandler serves POST /v1/ingest/forts.
func (s *Server) IngestFortsHandler(w http.ResponseWriter, r *http.Request) {
	var req fortsRequest
	if err := readJSON(w, r, &req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	if req.Username == "" {
		writeProblem(w, r, http.StatusBadRequest, "Invalid request", "username is required")
		return
	}
	s.reg.GotForts(req.Username, req.Pokestops)
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(req.Pokestops)})
}

type playerRequest struct {
	Username string `json:"username"`
	Level    int    `json:"level"`
	XP       int64  `json:"xp"`
}

// IngestPlayerHandler serves POST /v1/ingest/player.
func (s *Server) IngestPlayerHandler(w http.ResponseWriter, r *http.Request) {
	var req playerRequest
	if err := readJSON(w, r, &req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	if req.Username == "" || req.Level < 1 {
		writeProblem(w, r, http.StatusBadRequest, "Invalid request", "username and level are required")
		return
	}
	s.reg.GotPlayer(req.Username, req.Level, req.XP)
	w.WriteHeader(http.StatusNoContent)
}
