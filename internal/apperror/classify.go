package apperror

import (
	"net/http"
	"strings"
)

var allowlistMarkers = []string{
	"whitelist",
	"white list",
	"allowlist",
	"allow list",
	"address book",
	"not verified",
}

var insufficientMarkers = []string{
	"insufficient",
	"not enough",
	"account has insufficient balance",
}

var authMarkers = []string{
	"invalid api-key",
	"api-key format invalid",
	"signature for this request is not valid",
	"invalid signature",
	"invalid sign",
	"timestamp for this request",
	"outside of the recvwindow",
	"timestamp request expired",
	"invalid ok-access",
	"apikey does not match",
}

// filter names that identify the offending order parameter
var orderFilters = []string{
	"MARKET_LOT_SIZE",
	"LOT_SIZE",
	"MIN_NOTIONAL",
	"NOTIONAL",
	"PRICE_FILTER",
	"PERCENT_PRICE",
}

// ClassifyMessage maps an exchange error response to a typed error.
// status is the HTTP status, code the exchange-specific error code (may be empty).
func ClassifyMessage(exchange string, status int, code, msg string) *Error {
	lower := strings.ToLower(msg)
	withCode := msg
	if code != "" {
		withCode = code + ": " + msg
	}

	for _, m := range allowlistMarkers {
		if strings.Contains(lower, m) {
			return AllowlistBlocked(exchange, withCode)
		}
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Authentication(exchange, withCode)
	case status == http.StatusTooManyRequests || status == 418 || transientStatus(status):
		return Transient(exchange, withCode)
	}

	for _, m := range authMarkers {
		if strings.Contains(lower, m) {
			return Authentication(exchange, withCode)
		}
	}
	for _, m := range insufficientMarkers {
		if strings.Contains(lower, m) {
			return InsufficientBalance(exchange, withCode)
		}
	}
	upper := strings.ToUpper(msg)
	for _, f := range orderFilters {
		if strings.Contains(upper, f) {
			return OrderRejected(f, withCode, WithExchange(exchange))
		}
	}
	if strings.Contains(lower, "invalid symbol") {
		return OrderRejected("symbol", withCode, WithExchange(exchange))
	}
	if strings.Contains(lower, "too many requests") || strings.Contains(lower, "rate limit") {
		return Transient(exchange, withCode)
	}
	if status >= 400 {
		return OrderRejected("", withCode, WithExchange(exchange))
	}
	return New(KindInternal, withCode, WithExchange(exchange))
}

// transientStatus lists the 5xx responses that signal a temporary condition.
// Other server errors (501, 505, ...) will not succeed on retry.
func transientStatus(status int) bool {
	switch status {
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
