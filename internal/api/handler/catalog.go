package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/procurement-approvals/internal/domain"
)

type CatalogReader interface {
	Definitions() []domain.DocumentTypeDefinition
	DefinitionFor(t domain.DocumentType) (domain.DocumentTypeDefinition, error)
}

type RoleReader interface {
	ResolveRole(ctx context.Context, id string) (domain.Role, error)
}

// ReferenceHandler отдает справочники: виды документов и роли.
type ReferenceHandler struct {
	catalog CatalogReader
	roles   RoleReader
}

func NewReferenceHandler(c CatalogReader, r RoleReader) *ReferenceHandler {
	return &ReferenceHandler{catalog: c, roles: r}
}

// GET /document-types
func (h *ReferenceHandler) ListDocumentTypes(w http.ResponseWriter, r *http.Request) {
	defs := h.catalog.Definitions()
	out := make([]DocumentTypeView, 0, len(defs))
	for _, d := range defs {
		out = append(out, documentTypeView(d))
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /document-types/{type}
func (h *ReferenceHandler) GetDocumentType(w http.ResponseWriter, r *http.Request) {
	def, err := h.catalog.DefinitionFor(domain.DocumentType(chi.URLParam(r, "type")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, documentTypeView(def))
}

// GET /roles/{id}
func (h *ReferenceHandler) GetRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.roles.ResolveRole(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RoleView{ID: role.ID, Title: role.Title, Tier: role.Tier})
}
