package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/studsec/instancer/pkg/catalog"
	"github.com/studsec/instancer/pkg/types"
)

// resolve validates the path segments and looks the challenge up. It writes
// the error response and returns false when the request cannot proceed.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request) (*types.Challenge, string, bool) {
	userID := r.PathValue("user_id")
	serviceName := r.PathValue("service_name")

	if !segmentPattern.MatchString(userID) || !segmentPattern.MatchString(serviceName) {
		writeJSON(w, http.StatusUnprocessableEntity, errorEnvelope{Detail: "Path segment does not match ^[a-z0-9_\\-]*$"})
		return nil, "", false
	}

	ch, ok := s.catalog.Lookup(serviceName)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorEnvelope{Detail: fmt.Sprintf("Challenge '%s' not found", serviceName)})
		return nil, "", false
	}

	return ch, userID, true
}

// probe refreshes durable state before the handler decides anything
func (s *Server) probe(r *http.Request, ch *types.Challenge, userID string) (*types.Instance, error) {
	ctx, cancel := context.WithTimeout(r.Context(), probeDeadline)
	defer cancel()
	return s.reconciler.Reconcile(ctx, ch, userID)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	ch, userID, ok := s.resolve(w, r)
	if !ok {
		return
	}

	inst, err := s.probe(r, ch, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("challenge", ch.ID).Str("user_id", userID).Msg("Probe failed in start")
		s.writeInternalError(w, "start")
		return
	}

	if inst != nil && inst.State == types.InstanceStateRunning {
		writeJSON(w, http.StatusOK, message("running"))
		return
	}

	if s.engine.StartAsync(ch, userID) {
		writeJSON(w, http.StatusOK, message("starting"))
	} else {
		writeJSON(w, http.StatusOK, message("still working on it"))
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	ch, userID, ok := s.resolve(w, r)
	if !ok {
		return
	}

	inst, err := s.probe(r, ch, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("challenge", ch.ID).Str("user_id", userID).Msg("Probe failed in stop")
		s.writeInternalError(w, "stop")
		return
	}

	if inst == nil || inst.State != types.InstanceStateRunning {
		writeJSON(w, http.StatusOK, message("not running"))
		return
	}

	if s.engine.StopAsync(ch, userID) {
		writeJSON(w, http.StatusOK, message("stopping"))
	} else {
		writeJSON(w, http.StatusOK, message("still working on it"))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ch, userID, ok := s.resolve(w, r)
	if !ok {
		return
	}

	inst, err := s.probe(r, ch, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("challenge", ch.ID).Str("user_id", userID).Msg("Probe failed in status")
		s.writeInternalError(w, "status")
		return
	}

	if inst == nil {
		writeJSON(w, http.StatusOK, statusResponse{State: "not started"})
		return
	}

	resp := statusResponse{State: string(inst.State)}
	switch inst.State {
	case types.InstanceStateRunning:
		resp.URL = s.instanceURL(ch, inst)
	case types.InstanceStateFailed:
		resp.Reason = inst.Reason
	}

	writeJSON(w, http.StatusOK, resp)
}

// instanceURL substitutes the placed worker's address into the challenge's
// URL template. A running instance always has a worker and a port.
func (s *Server) instanceURL(ch *types.Challenge, inst *types.Instance) string {
	if inst.ServerIdx == nil || inst.Port == nil {
		return ""
	}
	worker := s.registry.Get(*inst.ServerIdx)
	if worker == nil {
		return ""
	}
	return catalog.URL(ch, worker.IP, *inst.Port)
}
