package httpapi

import (
	"encoding/json"
	"net/http"

	"raptor.onebusaway.org/internal/raptor"
)

// errorResponse is the JSON body written for any non-2xx response.
type errorResponse struct {
	RequestID string `json:"requestId,omitempty"`
	Status    int    `json:"status"`
	Message   string `json:"message"`
}

// writeError writes a JSON error body and sets the response status.
func writeError(w http.ResponseWriter, requestID string, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{RequestID: requestID, Status: status, Message: msg})
}

// writeRaptorError maps the engine's three-way error split onto HTTP status
// codes the way the teacher's sendError/sendNotFound helpers project internal
// conditions onto status codes: InvalidArgument is the caller's fault (400),
// NoData is a warning the caller already got an empty result for and should
// never reach here (callers check raptor.IsNoData before calling this), and
// anything else is ours (500).
func writeRaptorError(w http.ResponseWriter, requestID string, err error) {
	var rerr *raptor.Error
	if as, ok := err.(*raptor.Error); ok {
		rerr = as
	}
	if rerr == nil {
		writeError(w, requestID, http.StatusInternalServerError, err.Error())
		return
	}
	switch rerr.Kind {
	case raptor.InvalidArgument:
		writeError(w, requestID, http.StatusBadRequest, rerr.Msg)
	case raptor.Internal:
		writeError(w, requestID, http.StatusInternalServerError, rerr.Msg)
	default:
		writeError(w, requestID, http.StatusInternalServerError, rerr.Msg)
	}
}
