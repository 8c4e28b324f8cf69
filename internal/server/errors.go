package server

import (
	"net/http"

	apperrors "github.com/vibecoder/aigateway/internal/errors"
)

// HandleError writes err as an error envelope. Gateway, registry and driver
// failures are mapped to their envelope codes first so a queue-full or
// exhausted request never reaches the caller as a bare 500.
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if apperrors.IsCompletionError(err) {
		err = apperrors.FromGatewayError(r.Context(), err)
	}
	apperrors.RespondWithError(w, r, err)
}
