package types

// Error codes returned by the REST API.
const (
	CodeBadRequest      = "DECODER_400"
	CodeNotReady        = "DECODER_503"
	CodeFeedUnavailable = "FEED_503"
	CodeInternal        = "SYSTEM_500"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
