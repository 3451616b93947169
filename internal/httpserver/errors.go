package httpserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/torbolabs/torbobase/internal/gatewaytypes"
)

// writeError inspects err via errors.As against the gateway's error-kind
// taxonomy (internal/gatewaytypes/errors.go) and writes the matching HTTP
// status and body — never by string-matching the error text, mirroring the
// teacher's errors.go (ErrLLM/ErrHTTP) kind-dispatch idiom.
func writeError(w http.ResponseWriter, err error) {
	var (
		parseErr   *gatewaytypes.ErrParse
		authErr    *gatewaytypes.ErrAuth
		authzErr   *gatewaytypes.ErrAuthorization
		rateErr    *gatewaytypes.ErrRateLimit
		upstream   *gatewaytypes.ErrUpstream
		cfgErr     *gatewaytypes.ErrConfigMissing
	)

	switch {
	case errors.As(err, &parseErr):
		writeErrorMessage(w, http.StatusBadRequest, parseErr.Error())

	case errors.As(err, &authErr):
		// Detail is for audit logging only; never echoed to the client.
		writeErrorMessage(w, http.StatusUnauthorized, "unauthorized")

	case errors.As(err, &authzErr):
		writeErrorMessage(w, http.StatusForbidden, authzErr.Detail)

	case errors.As(err, &rateErr):
		if rateErr.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(rateErr.RetryAfter.Seconds())))
		}
		writeErrorMessage(w, http.StatusTooManyRequests, "rate limit exceeded")

	case errors.As(err, &upstream):
		status := http.StatusBadGateway
		if upstream.IsAuthFailure() {
			writeErrorMessage(w, upstream.Status, "Cloud API key is invalid or expired")
			return
		}
		if upstream.Status >= 400 && upstream.Status < 600 {
			status = upstream.Status
		}
		writeJSON(w, status, map[string]any{
			"error": map[string]string{"message": upstream.Error(), "type": "upstream_error"},
		})

	case errors.As(err, &cfgErr):
		writeErrorMessage(w, http.StatusInternalServerError, cfgErr.Error())

	default:
		writeErrorMessage(w, http.StatusInternalServerError, "internal error")
	}
}
