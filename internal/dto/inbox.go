package dto

import "time"

// ReviewRequest is the body of a single approve or reject call.
type ReviewRequest struct {
	Reviewer string `json:"reviewer,omitempty"`
	Note     string `json:"note,omitempty"`
}

// BulkReviewRequest is the body of a bulk approve or reject call.
type BulkReviewRequest struct {
	IDs      []int64 `json:"ids" binding:"required,min=1,dive,gt=0"`
	Reviewer string  `json:"reviewer,omitempty"`
	Note     string  `json:"note,omitempty"`
}

// APIError is the structured error body returned by the inbox service.
type APIError struct {
	OK        bool      `json:"ok"`
	Status    int       `json:"status"`
	Error     string    `json:"error"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

// Describe picks the most useful human-readable text from the body.
func (e APIError) Describe() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}
