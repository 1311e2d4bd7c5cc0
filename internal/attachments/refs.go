package attachments

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xela07ax/procurement-approvals/internal/domain"
)

// Метаданные заранее выгруженного вложения лежат в том же хранилище рядом
// с байтами. По ним действие ссылается на вложение по id.
const refSuffix = ".ref"

// RefKey: ключ метаданных для ключа байтов.
func RefKey(storageKey string) string {
	return storageKey + refSuffix
}

func PutRef(ctx context.Context, s Store, ref domain.AttachmentRef) error {
	raw, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("failed to encode attachment ref %s: %w", ref.ID, err)
	}
	return s.Put(ctx, RefKey(ref.StorageKey), raw)
}

// GetRef возвращает метаданные или ErrAttachmentNotFound, если вложение
// под этим ключом не выгружалось.
func GetRef(ctx context.Context, s Store, storageKey string) (domain.AttachmentRef, error) {
	raw, err := s.Get(ctx, RefKey(storageKey))
	if err != nil {
		return domain.AttachmentRef{}, err
	}
	var ref domain.AttachmentRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return domain.AttachmentRef{}, fmt.Errorf("failed to decode attachment ref %s: %w", storageKey, err)
	}
	return ref, nil
}
