package server

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/kiisha-io/kiisha/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps the error taxonomy to HTTP statuses. Only the public
// message is rendered; the internal reason goes to the request log.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindForbidden:
		status = http.StatusForbidden
	case apperr.KindBadRequest:
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
	}

	event := zerolog.Ctx(r.Context()).Warn()
	if status == http.StatusInternalServerError {
		event = zerolog.Ctx(r.Context()).Error()
	}
	event.
		Int("status", status).
		Str("reason", apperr.ReasonOf(err)).
		Msg("Request failed")

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}

	writeJSON(w, status, errorBody{Error: message})
}
