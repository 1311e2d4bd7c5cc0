package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных сервиса в Redis
	RedisNamespace = "procurement"
)

// Ключи (состояние)
const (
	RedisKeyAttachmentPrefix = RedisNamespace + ":attachments:"
	RedisKeyRolePrefix       = RedisNamespace + ":roles:"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanTransitions: уведомления о каждом успешном переходе workflow.
	RedisChanTransitions = RedisNamespace + ":workflows:transitions"
	// RedisChanCatalogRefresh: сигнал перечитать каталог маршрутов.
	RedisChanCatalogRefresh = RedisNamespace + ":catalog:refresh"
)

// AttachmentKey Генератор ключа для байтов вложения
func AttachmentKey(storageKey string) string {
	return fmt.Sprintf("%s%s", RedisKeyAttachmentPrefix, storageKey)
}

// RoleCacheKey ключ кэша роли, полученной из внешнего справочника
func RoleCacheKey(roleID string) string {
	return RedisKeyRolePrefix + roleID
}
