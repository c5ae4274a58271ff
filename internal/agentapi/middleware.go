package agentapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// requireDeviceToken checks that the bearer token belongs to the device in the path
func (s *Server) requireDeviceToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authorizeDevice(w, r, mux.Vars(r)["device_id"]) {
			next.ServeHTTP(w, r)
		}
	})
}

// authorizeDevice writes the rejection itself and reports whether the request may proceed.
// Without a token manager every request is allowed.
func (s *Server) authorizeDevice(w http.ResponseWriter, r *http.Request, deviceID string) bool {
	if s.tokens == nil {
		return true
	}

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing bearer token"})
		return false
	}

	claims, err := s.tokens.ValidateDeviceToken(token)
	if err != nil {
		log.Debug().Err(err).Str("device_id", deviceID).Msg("Rejected agent token")
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid token"})
		return false
	}

	if claims.DeviceID != deviceID {
		log.Warn().
			Str("device_id", deviceID).
			Str("token_device_id", claims.DeviceID).
			Msg("Agent token used for another device")
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "token does not match device"})
		return false
	}

	return true
}
