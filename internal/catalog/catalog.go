package catalog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xela07ax/procurement-approvals/internal/domain"
)

// Catalog: справочник маршрутов согласования по видам документов.
// Replace подменяет весь набор целиком. Уже поданные экземпляры держат
// собственную копию маршрута и перезагрузку не замечают.
type Catalog struct {
	mu   sync.RWMutex
	defs map[domain.DocumentType]domain.DocumentTypeDefinition
}

// New строит каталог и валидирует каждое определение.
func New(defs []domain.DocumentTypeDefinition) (*Catalog, error) {
	c := &Catalog{}
	if err := c.Replace(defs); err != nil {
		return nil, err
	}
	return c, nil
}

// NewDefault возвращает каталог со встроенными маршрутами.
func NewDefault() *Catalog {
	c, err := New(Defaults())
	if err != nil {
		// встроенный каталог валиден всегда, иначе это ошибка сборки
		panic(err)
	}
	return c
}

// DefinitionFor возвращает копию маршрута или ErrUnknownDocumentType.
func (c *Catalog) DefinitionFor(t domain.DocumentType) (domain.DocumentTypeDefinition, error) {
	c.mu.RLock()
	def, ok := c.defs[t]
	c.mu.RUnlock()
	if !ok {
		return domain.DocumentTypeDefinition{}, fmt.Errorf("%w: %q", domain.ErrUnknownDocumentType, t)
	}
	return def.Clone(), nil
}

func (c *Catalog) DocumentTypes() []domain.DocumentType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.DocumentType, 0, len(c.defs))
	for t := range c.defs {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Definitions: снимок всех маршрутов, отсортированный по виду документа.
func (c *Catalog) Definitions() []domain.DocumentTypeDefinition {
	types := c.DocumentTypes()
	out := make([]domain.DocumentTypeDefinition, 0, len(types))
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range types {
		if def, ok := c.defs[t]; ok {
			out = append(out, def.Clone())
		}
	}
	return out
}

// Replace атомарно подменяет каталог. Невалидный набор отклоняется целиком,
// прежний каталог остается активным.
func (c *Catalog) Replace(defs []domain.DocumentTypeDefinition) error {
	if len(defs) == 0 {
		return fmt.Errorf("%w: catalog is empty", domain.ErrInvalidDefinition)
	}

	next := make(map[domain.DocumentType]domain.DocumentTypeDefinition, len(defs))
	for _, d := range defs {
		def := d.Clone()
		if err := def.Validate(); err != nil {
			return err
		}
		if _, dup := next[def.DocumentType]; dup {
			return fmt.Errorf("%w: duplicate document type %s", domain.ErrInvalidDefinition, def.DocumentType)
		}
		next[def.DocumentType] = def
	}

	c.mu.Lock()
	c.defs = next
	c.mu.Unlock()
	return nil
}
