package models

// APIResponse is a generic API response wrapper
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Errors  interface{} `json:"errors,omitempty"`
}

// NewSuccessResponse creates a success response
func NewSuccessResponse(data interface{}) APIResponse {
	return APIResponse{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(message string) APIResponse {
	return APIResponse{
		Success: false,
		Error:   message,
	}
}

// NewValidationErrorResponse creates a validation error response
func NewValidationErrorResponse(errors map[string]string) APIResponse {
	return APIResponse{
		Success: false,
		Error:   "Validation failed",
		Errors:  errors,
	}
}

// PartialResponse is sent with 207 when an operation was applied but a
// follow-up step failed. Data still carries the applied result.
type PartialResponse struct {
	Success      bool        `json:"success"`
	Data         interface{} `json:"data,omitempty"`
	Error        string      `json:"error"`
	FailedChunks interface{} `json:"failed_chunks,omitempty"`
}

// NewPartialResponse creates a partial failure response
func NewPartialResponse(data interface{}, message string, failed interface{}) PartialResponse {
	return PartialResponse{
		Data:         data,
		Error:        message,
		FailedChunks: failed,
	}
}
