package apperror

// Kind classifies a failure by how the caller should react to it.
type Kind string

const (
	KindAuthentication      Kind = "AuthenticationError"
	KindInsufficientBalance Kind = "InsufficientBalanceError"
	KindOrderRejected       Kind = "OrderRejectedError"
	KindTransientNetwork    Kind = "TransientNetworkError"
	KindAllowlistBlocked    Kind = "AllowlistBlockedError"
	KindTransferTimeout     Kind = "TransferTimeoutError"
	KindConfiguration       Kind = "ConfigurationError"
	KindStaleOpportunity    Kind = "StaleOpportunityError"
	KindCapitalLocked       Kind = "CapitalLockedError"
	KindValidation          Kind = "ValidationError"
	KindInternal            Kind = "InternalError"
)

var summaries = map[Kind]string{
	KindAuthentication:      "authentication failed",
	KindInsufficientBalance: "insufficient balance",
	KindOrderRejected:       "order rejected",
	KindTransientNetwork:    "exchange temporarily unavailable",
	KindAllowlistBlocked:    "destination address not verified",
	KindTransferTimeout:     "transfer not confirmed in time",
	KindConfiguration:       "configuration error",
	KindStaleOpportunity:    "opportunity no longer valid",
	KindCapitalLocked:       "capital already committed",
	KindValidation:          "invalid request",
	KindInternal:            "internal error",
}

var remediations = map[Kind]string{
	KindAuthentication:      "check the API key, secret and passphrase, key permissions and the host clock",
	KindInsufficientBalance: "deposit funds or lower the trade size",
	KindOrderRejected:       "adjust the order size to the exchange lot size and minimum notional rules",
	KindTransientNetwork:    "retry later",
	KindAllowlistBlocked:    "add the destination address in the exchange's withdrawal settings",
	KindTransferTimeout:     "check both exchanges manually and reconcile the transfer before trading again",
	KindConfiguration:       "add the missing network or exchange mapping to the configuration",
	KindStaleOpportunity:    "refresh opportunities and retry with current prices",
	KindCapitalLocked:       "wait for the in-flight execution on this exchange and asset to finish",
	KindValidation:          "fix the request fields",
	KindInternal:            "check the service logs",
}

// Summary returns the short user-facing classification.
func (k Kind) Summary() string {
	if s, ok := summaries[k]; ok {
		return s
	}
	return string(k)
}

// Remediation returns the action a user should take.
func (k Kind) Remediation() string {
	return remediations[k]
}

// Permanent reports whether retrying the same request can never succeed.
func (k Kind) Permanent() bool {
	return k != KindTransientNetwork
}
