package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/forgehost/controlplane/internal/apperr"
)

// envelope is the uniform error shape for every non-2xx API response.
type envelope struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Respond writes a JSON body with the given status code.
func Respond(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// RespondNoContent writes a 204 with no body, for DELETE-style handlers.
func RespondNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// RespondError renders err as the uniform error envelope. If err is not an
// *apperr.Error it is treated as an unclassified internal error — its
// message is never included verbatim in the response, since an unwrapped
// error may carry details that weren't vetted for the client.
func RespondError(w http.ResponseWriter, err error) {
	if ae, ok := apperr.As(err); ok {
		Respond(w, ae.Status(), envelope{
			Error:   string(ae.Kind),
			Message: ae.Message,
			Details: ae.Details,
		})
		return
	}
	Respond(w, http.StatusInternalServerError, envelope{
		Error:   string(apperr.KindInternal),
		Message: "internal error",
	})
}
