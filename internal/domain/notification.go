package domain

import "time"

// TransitionNotice публикуется после каждого успешного перехода.
// Потребители (бейджи UI, аналитика) инвалидируют по нему свои кэши.
type TransitionNotice struct {
	DocumentID       string         `json:"documentId"`
	DocumentType     DocumentType   `json:"documentType"`
	NewStatus        WorkflowStatus `json:"newStatus"`
	NextApproverRole string         `json:"nextApproverRole,omitempty"`
	Version          int64          `json:"version"`
	OccurredAt       time.Time      `json:"occurredAt"`
}
