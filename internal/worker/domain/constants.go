package domain

// Error codes written to transactions the worker fails
const (
	CodeInvalidPayload    = "INVALID_PAYLOAD"
	CodeProcessingTimeout = "PROCESSING_TIMEOUT"
	CodeProcessingFailed  = "PROCESSING_FAILED"
)
