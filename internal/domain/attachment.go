package domain

import "time"

// AttachmentRef: метаданные вложения. Сами байты лежат во внешнем хранилище
// под ключом StorageKey.
type AttachmentRef struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	UploadedBy  string    `json:"uploaded_by"`
	UploadedAt  time.Time `json:"uploaded_at"`
	StorageKey  string    `json:"storage_key"`
}
