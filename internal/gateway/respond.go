package gateway

import (
	"encoding/json"
	"net/http"

	"maintenix.io/internal/obs"
)

type errorBody struct {
	Error      string `json:"error"`
	Reason     string `json:"reason,omitempty"`
	Route      string `json:"route,omitempty"`
	Permission string `json:"permission,omitempty"`
	Status     string `json:"status,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// reject ends the request at the named pipeline stage.
func reject(w http.ResponseWriter, r *http.Request, stage string, code int, body errorBody) {
	obs.GatewayRejections.WithLabelValues(stage).Inc()
	body.RequestID = RequestIDFromContext(r.Context())
	writeJSON(w, code, body)
}
