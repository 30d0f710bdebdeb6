package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "turnstile/pkg/errors"
)

type commitBody struct {
	ParticipantID string `json:"participant_id"`
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid object", `{"participant_id":"p-1"}`, false},
		{"empty body", ``, true},
		{"unknown field", `{"participant_id":"p-1","seat":"A1"}`, true},
		{"malformed", `{"participant_id":`, true},
		{"two objects", `{"participant_id":"p-1"}{"participant_id":"p-2"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var body commitBody

			err := DecodeJSON(req, &body)
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, "p-1", body.ParticipantID)
				return
			}
			require.Error(t, err)
			appErr := apperrors.AsAppError(err)
			assert.Equal(t, apperrors.CodeInvalidInput, appErr.Code)
			assert.Equal(t, http.StatusBadRequest, appErr.StatusCode())
		})
	}
}

func TestWriteCreated_WrapsData(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteCreated(rec, map[string]string{"ticket_id": "t-1"}))

	assert.Equal(t, http.StatusCreated, rec.Code)
	var decoded struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&decoded))
	assert.Equal(t, "t-1", decoded.Data["ticket_id"])
}

func TestWriteNoContent(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteNoContent(rec)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}
