package serve

import (
	"encoding/json"
	"net/http"

	"github.com/gftdcojp/storage-tiers/internal/metrics"
	"github.com/gftdcojp/storage-tiers/internal/tier"
)

// CodeUnauthorized is returned to callers without valid admin credentials.
const CodeUnauthorized = "UNAUTHORIZED"

// ErrorBody is the error part of a failed reply.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorReply is returned by every failed operation.
type ErrorReply struct {
	Error ErrorBody `json:"error"`
}

func newErrorReply(err error) ErrorReply {
	return ErrorReply{Error: ErrorBody{Code: tier.Code(err), Message: err.Error()}}
}

func httpStatus(code string) int {
	switch code {
	case tier.CodeOK:
		return http.StatusOK
	case tier.CodeNoSuchSystem, tier.CodeNoSuchTier, tier.CodeNoSuchTieringPolicy, tier.CodeNoSuchPool:
		return http.StatusNotFound
	case tier.CodeIllegalPoolClassification, tier.CodeInvalidPlacement, tier.CodeBadRequest:
		return http.StatusBadRequest
	case tier.CodeConflict:
		return http.StatusConflict
	case tier.CodeUnsupported:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// observe counts one admin operation by its outcome.
func observe(op string, err error) {
	metrics.AdminOps.WithLabelValues(op, tier.Code(err)).Inc()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	reply := newErrorReply(err)
	writeJSON(w, httpStatus(reply.Error.Code), reply)
}
