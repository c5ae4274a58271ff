package agentapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"thinfleet/internal/metrics"
	"thinfleet/internal/registry"
	"thinfleet/pkg/models"
)

type errorResponse struct {
	Success bool             `json:"success"`
	Error   string           `json:"error"`
	Kind    models.ErrorKind `json:"error_kind,omitempty"`
}

// agentCommand is the shape the agent expects for each queued command
type agentCommand struct {
	ID   string             `json:"id"`
	Type models.CommandType `json:"type"`
	Data map[string]any     `json:"data"`
}

type heartbeatResponse struct {
	Status   string         `json:"status"`
	Commands []agentCommand `json:"commands"`
}

type commandResultRequest struct {
	CommandID string         `json:"command_id"`
	Result    map[string]any `json:"result"`
	Timestamp string         `json:"timestamp"`
}

type commandResultResponse struct {
	Status     string             `json:"status"`
	Command    *models.Command    `json:"command"`
	Deployment *models.Deployment `json:"deployment,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

// writeError maps err to an HTTP status by its kind
func writeError(w http.ResponseWriter, err error) {
	kind := models.KindOf(err)

	status := http.StatusInternalServerError
	switch kind {
	case models.KindValidation, models.KindUnsupportedMethod:
		status = http.StatusBadRequest
	case models.KindNotFound:
		status = http.StatusNotFound
	case models.KindIntegrity:
		status = http.StatusUnprocessableEntity
	case models.KindCanceled:
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("Request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}

func decodeBody(r *http.Request, w http.ResponseWriter, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %v: %w", err, models.ErrValidation)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deviceID := mux.Vars(r)["device_id"]

	var info map[string]any
	if err := decodeBody(r, w, &info); err != nil {
		metrics.AgentHeartbeatsTotal.WithLabelValues("invalid").Inc()
		writeError(w, err)
		return
	}

	hb := registry.HeartbeatInfo{}
	hb.IPAddress, _ = info["ip_address"].(string)
	if network, ok := info["network"].(map[string]any); ok && hb.IPAddress == "" {
		hb.IPAddress = primaryAddress(network)
	}
	hb.Hostname, _ = info["hostname"].(string)
	hb.HardwareProfile, _ = info["hardware"].(map[string]any)

	if err := s.devices.Touch(ctx, deviceID, hb); err != nil {
		metrics.AgentHeartbeatsTotal.WithLabelValues(string(models.KindOf(err))).Inc()
		writeError(w, err)
		return
	}

	pending, err := s.commands.Dispatch(ctx, deviceID, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}

	resp := heartbeatResponse{Status: "ok", Commands: make([]agentCommand, 0, len(pending))}
	for _, c := range pending {
		resp.Commands = append(resp.Commands, agentCommand{ID: c.CommandID, Type: c.Type, Data: c.Data})
	}

	metrics.AgentHeartbeatsTotal.WithLabelValues("ok").Inc()
	metrics.AgentCommandsDispatchedTotal.Add(float64(len(pending)))
	if len(pending) > 0 {
		log.Info().Str("device_id", deviceID).Int("commands", len(pending)).Msg("Commands dispatched to agent")
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCommandResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deviceID := mux.Vars(r)["device_id"]

	var req commandResultRequest
	if err := decodeBody(r, w, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.CommandID == "" {
		writeError(w, fmt.Errorf("command_id is required: %w", models.ErrValidation))
		return
	}

	cmd, err := s.commands.Get(ctx, req.CommandID)
	if err != nil {
		writeError(w, err)
		return
	}
	if cmd.DeviceID != deviceID {
		writeError(w, fmt.Errorf("command %s does not belong to device %s: %w", req.CommandID, deviceID, models.ErrNotFound))
		return
	}

	success, _ := req.Result["success"].(bool)
	status := models.CommandFailed
	if success {
		status = models.CommandCompleted
	}

	cmd, err = s.commands.Finish(ctx, req.CommandID, status, req.Result, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}

	resp := commandResultResponse{Status: "ok", Command: cmd}

	if cmd.DeploymentID != "" && cmd.Type == models.CommandUpdateImage {
		report := models.CompletionReport{Success: success}
		report.Error, _ = req.Result["error"].(string)

		dep, err := s.orchestrator.Complete(ctx, cmd.DeploymentID, report)
		switch {
		case errors.Is(err, models.ErrValidation):
			// superseded or already finished; the command result is still recorded
			log.Warn().Err(err).Str("command_id", cmd.CommandID).Msg("Deployment not updated from command result")
		case err != nil:
			writeError(w, err)
			return
		default:
			resp.Deployment = dep
		}
	}

	log.Info().
		Str("device_id", deviceID).
		Str("command_id", cmd.CommandID).
		Str("status", string(status)).
		Msg("Command result received")

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeploymentComplete(w http.ResponseWriter, r *http.Request) {
	deploymentID := mux.Vars(r)["deployment_id"]

	var report models.CompletionReport
	if err := decodeBody(r, w, &report); err != nil {
		writeError(w, err)
		return
	}

	if s.tokens != nil {
		dep, err := s.orchestrator.GetDeployment(r.Context(), deploymentID)
		if err != nil {
			writeError(w, err)
			return
		}
		if !s.authorizeDevice(w, r, dep.DeviceID) {
			return
		}
	}

	dep, err := s.orchestrator.Complete(r.Context(), deploymentID, report)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Success    bool               `json:"success"`
		Deployment *models.Deployment `json:"deployment"`
	}{true, dep})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.devices.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	device, err := s.devices.Get(r.Context(), mux.Vars(r)["device_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

func (s *Server) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	deployments, err := s.orchestrator.ListDeployments(r.Context(), models.DeploymentFilter{
		DeviceID: q.Get("device_id"),
		Status:   models.DeploymentStatus(q.Get("status")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deployments)
}

func (s *Server) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	dep, err := s.orchestrator.GetDeployment(r.Context(), mux.Vars(r)["deployment_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dep)
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	imgs, err := s.images.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, imgs)
}
