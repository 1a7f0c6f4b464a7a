package errutil

type CoreStatus string

const (
	StatusBadRequest          CoreStatus = "BAD_REQUEST"
	StatusUnauthorized        CoreStatus = "UNAUTHORIZED"
	StatusForbidden           CoreStatus = "FORBIDDEN"
	StatusNotFound            CoreStatus = "NOT_FOUND"
	StatusConflict            CoreStatus = "CONFLICT"
	StatusValidationFailed    CoreStatus = "VALIDATION_FAILED"
	StatusUnprocessableEntity CoreStatus = "UNPROCESSABLE_ENTITY"
	StatusTooManyRequests     CoreStatus = "TOO_MANY_REQUESTS"
	StatusInternal            CoreStatus = "INTERNAL"
	StatusTimeout             CoreStatus = "TIMEOUT"
	StatusBadGateway          CoreStatus = "BAD_GATEWAY"
	StatusNotImplemented      CoreStatus = "NOT_IMPLEMENTED"

	// Licensing statuses. VENDOR_UNREACHABLE is recoverable: callers fall
	// back to offline verification instead of treating the license as invalid.
	StatusVendorUnreachable CoreStatus = "VENDOR_UNREACHABLE"
	StatusNoPublicKey       CoreStatus = "NO_PUBLIC_KEY"
	StatusInvalidFormat     CoreStatus = "INVALID_FORMAT"
	StatusInvalidSignature  CoreStatus = "INVALID_SIGNATURE"
)
