package server

import (
	"net/http"

	"github.com/garl-protocol/trust-engine/internal/apperr"
)

func httpStatus(err error) int {
	return apperr.HTTPStatus(err)
}

func codeOf(err error) string {
	if code := apperr.CodeOf(err); code != "" {
		return code
	}
	return "internal_error"
}

func hintOr(err error) string {
	if hint := apperr.HintOf(err); hint != "" {
		return hint
	}
	return "an unexpected error occurred"
}

func unauthorized(w http.ResponseWriter, hint string) {
	writeErrorResp(w, apperr.New(apperr.KindUnauthorized, "unauthorized", hint))
}

func badRequest(w http.ResponseWriter, hint string) {
	writeErrorResp(w, apperr.New(apperr.KindValidation, "invalid_request", hint))
}

func rateLimited(w http.ResponseWriter) {
	writeErrorResp(w, apperr.New(apperr.KindRateLimited, "rate_limited", "too many requests, slow down"))
}
