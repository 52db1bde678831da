package dto

import "time"

// Error codes returned in ErrorResponse.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeNotFound         = "NOT_FOUND"
	CodeQueueUnavailable = "QUEUE_UNAVAILABLE"
	CodeInternal         = "INTERNAL_ERROR"
)

type GenerateEbookRequest struct {
	UserID    string     `json:"userId" binding:"required"`
	EbookData *EbookData `json:"ebookData" binding:"required"`
}

type EbookData struct {
	Titulo             string `json:"titulo" binding:"required"`
	Categoria          string `json:"categoria" binding:"required"`
	NumeroCapitulos    int    `json:"numeroCapitulos,omitempty" binding:"omitempty,min=1,max=20"`
	DetalhesAdicionais string `json:"detalhesAdicionais,omitempty"`
}

type GenerateEbookResponse struct {
	JobID         string `json:"jobId"`
	RequestID     string `json:"requestId"`
	Status        string `json:"status"`
	EstimatedTime string `json:"estimatedTime"`
	Message       string `json:"message"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewError builds an error response without details.
func NewError(code, message string) ErrorResponse {
	return ErrorResponse{Error: ErrorBody{Code: code, Message: message}}
}

type ServiceInfo struct {
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Environment string            `json:"environment"`
	Endpoints   map[string]string `json:"endpoints"`
}

type TestResponse struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
