package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"swapgateway/internal/gwerrors"
)

// errorKindTotal counts gateway errors by kind, so an operator can alert on
// a spike of NonceStale or SlippageOrLiquidity without parsing log lines.
var errorKindTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gateway",
	Name:      "errors_total",
	Help:      "Total gateway errors returned to callers, labeled by error kind.",
}, []string{"kind"})

// writeGatewayError maps a gwerrors.Error onto the HTTP status and body its
// Kind names; any other error is treated as an unclassified internal error.
func writeGatewayError(w http.ResponseWriter, err error) {
	if err == nil {
		writeInternalError(w, errors.New("unknown error"))
		return
	}
	gerr, ok := gwerrors.As(err)
	if !ok {
		writeInternalError(w, err)
		return
	}
	errorKindTotal.WithLabelValues(string(gerr.Kind)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(gerr.Kind.HTTPStatus())
	payload, marshalErr := json.Marshal(map[string]any{
		"error":     gerr.Message,
		"kind":      string(gerr.Kind),
		"retryable": gerr.Kind.Retryable(),
	})
	if marshalErr != nil {
		writeInternalError(w, marshalErr)
		return
	}
	_, _ = w.Write(payload)
}
