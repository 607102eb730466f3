package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/kubernaut-deploy/orchestrator/internal/errors"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps err onto the HTTP status table in SPEC_FULL §5. A plain
// (non-*AppError) error never reaches a caller verbatim.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperrors.GetStatusCode(err), errorResponse{Error: apperrors.SafeErrorMessage(err)})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
