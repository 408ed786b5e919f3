package api

import (
	"errors"
	"net/http"

	"scanbrain/internal/model"
	"scanbrain/internal/registry"
	"scanbrain/internal/store"
)

type controlerRequest struct {
	Type     string `json:"type"`
	UUID     string `json:"uuid"`
	Username string `json:"username,omitempty"`
}

type controlerResponse struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
}

type initData struct {
	Assigned bool   `json:"assigned"`
	Instance string `json:"instance,omitempty"`
}

type accountData struct {
	Username string `json:"username"`
	Level    int    `json:"level"`
}

// ControlerHandler serves POST /controler, the endpoint every device polls.
func (s *Server) ControlerHandler(w http.ResponseWriter, r *http.Request) {
	var req controlerRequest
	if err := readJSON(w, r, &req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	if err := validateControlerRequest(&req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	instance, assigned := s.reg.DeviceInstance(req.UUID)
	s.devices.touch(req.UUID, instance, req.Username, s.now())

	switch req.Type {
	case controlerInit:
		s.devices.started(req.UUID)
		writeJSON(w, http.StatusOK, controlerResponse{Status: "ok", Data: initData{Assigned: assigned, Instance: instance}})
	case controlerHeartbeat:
		writeJSON(w, http.StatusOK, controlerResponse{Status: "ok"})
	case controlerJob:
		if !s.polls.allow(req.UUID, s.now()) {
			writeProblem(w, r, http.StatusTooManyRequests, "Polling too fast", "device "+req.UUID)
			return
		}
		task, err := s.reg.GetTask(r.Context(), model.TaskRequest{
			UUID:      req.UUID,
			Username:  req.Username,
			IsStartup: s.devices.takeStartup(req.UUID),
		})
		if err != nil {
			s.registryProblem(w, r, err)
			return
		}
		if task == nil {
			writeJSON(w, http.StatusOK, controlerResponse{Status: "ok"})
			return
		}
		writeJSON(w, http.StatusOK, controlerResponse{Status: "ok", Data: task})
	case controlerGetAccount:
		a, err := s.reg.Account(r.Context(), req.UUID)
		if err != nil {
			s.registryProblem(w, r, err)
			return
		}
		s.devices.touch(req.UUID, instance, a.Username, s.now())
		writeJSON(w, http.StatusOK, controlerResponse{Status: "ok", Data: accountData{Username: a.Username, Level: a.Level}})
	}
}

// registryProblem maps registry and store errors onto HTTP statuses.
func (s *Server) registryProblem(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, registry.ErrUnknownDevice):
		writeProblem(w, r, http.StatusNotFound, "Device not assigned", err.Error())
	case errors.Is(err, registry.ErrUnknownInstance):
		writeProblem(w, r, http.StatusNotFound, "Instance not found", err.Error())
	case errors.Is(err, registry.ErrUnsupported):
		writeProblem(w, r, http.StatusConflict, "Not supported", err.Error())
	case errors.Is(err, store.ErrNoAccount):
		writeProblem(w, r, http.StatusNotFound, "No account available", err.Error())
	default:
		s.log.Error("request failed", "path", r.URL.Path, "err", err)
		writeProblem(w, r, http.StatusInternalServerError, "Internal error", "")
	}
}
