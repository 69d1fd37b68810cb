package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nextlevelbuilder/stockfleet/internal/agent"
	"github.com/nextlevelbuilder/stockfleet/pkg/protocol"
)

func TestWriteAgentErrorMapping(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantCode    string
		wantDetails string
	}{
		{"validation", &agent.Error{Code: protocol.ErrValidation, Message: "bad sku"},
			http.StatusBadRequest, protocol.ErrValidation, ""},
		{"not found", &agent.Error{Code: protocol.ErrNotFound, Message: "missing"},
			http.StatusNotFound, protocol.ErrNotFound, ""},
		{"conflict", &agent.Error{Code: protocol.ErrAgentExists, Message: "duplicate"},
			http.StatusConflict, protocol.ErrAgentExists, ""},
		{"internal carries details", &agent.Error{Code: protocol.ErrInternal, Message: "disk io failure"},
			http.StatusInternalServerError, protocol.ErrInternal, "disk io failure"},
		{"terminated", agent.ErrTerminated,
			http.StatusServiceUnavailable, protocol.ErrInternal, agent.ErrTerminated.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeAgentError(rec, tt.err)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body errorBody
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("bad body %s: %v", rec.Body.Bytes(), err)
			}
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
			if body.Details != tt.wantDetails {
				t.Errorf("details = %q, want %q", body.Details, tt.wantDetails)
			}
			if body.Timestamp == "" {
				t.Error("timestamp missing")
			}
		})
	}
}
