package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/stockfleet/internal/agent"
	"github.com/nextlevelbuilder/stockfleet/internal/router"
	"github.com/nextlevelbuilder/stockfleet/pkg/protocol"
)

// errorBody is the HTTP error shape: {code, message, details?, timestamp}.
type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	Timestamp string `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("gateway.encode_failed", "error", err)
	}
}

func writeRaw(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, code, message, details string) {
	writeJSON(w, status, errorBody{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// writeAgentError maps agent operation errors to HTTP statuses.
func writeAgentError(w http.ResponseWriter, err error) {
	if errors.Is(err, agent.ErrNotReady) || errors.Is(err, agent.ErrTerminated) {
		writeError(w, http.StatusServiceUnavailable, protocol.ErrInternal, "agent unavailable", err.Error())
		return
	}

	var e *agent.Error
	if errors.As(err, &e) {
		if e.Code == protocol.ErrInternal {
			writeError(w, http.StatusInternalServerError, e.Code, "internal error", e.Message)
			return
		}
		writeError(w, statusForCode(e.Code), e.Code, e.Message, "")
		return
	}
	writeError(w, http.StatusInternalServerError, protocol.ErrInternal, "internal error", err.Error())
}

func statusForCode(code string) int {
	switch code {
	case protocol.ErrValidation:
		return http.StatusBadRequest
	case protocol.ErrAgentExists:
		return http.StatusConflict
	case protocol.ErrNotFound:
		return http.StatusNotFound
	case protocol.ErrMethodNotAllowed:
		return http.StatusMethodNotAllowed
	}
	return http.StatusInternalServerError
}

func writeResolveError(w http.ResponseWriter, err error) {
	var re *router.ResolveError
	if errors.As(err, &re) {
		code := protocol.ErrValidation
		if re.Status == http.StatusNotFound {
			code = protocol.ErrNotFound
		}
		writeError(w, re.Status, code, re.Message, "")
		return
	}
	writeError(w, http.StatusBadRequest, protocol.ErrValidation, err.Error(), "")
}

// requireMethod writes a 405 and returns false when the verb is wrong.
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, protocol.ErrMethodNotAllowed, "method not allowed", r.Method)
		return false
	}
	return true
}
