package domain

import (
	"fmt"
	"sort"
)

// DocumentType: вид закупочного документа.
type DocumentType string

const (
	DocPurchaseRequisition DocumentType = "purchase_requisition"
	DocVendorQuotation     DocumentType = "vendor_quotation"
	DocMaterialRequisition DocumentType = "material_requisition"
	DocDeliveryNote        DocumentType = "delivery_note"
	DocWorkOrder           DocumentType = "work_order"
)

// FlagName: именованный чекбокс, который проставляется при согласовании шага.
type FlagName string

const (
	FlagPM         FlagName = "PM_FLAG"
	FlagCost       FlagName = "COST_FLAG"
	FlagQtySpec    FlagName = "QTY_SPEC_FLAG"
	FlagQtyScope   FlagName = "QTY_SCOPE_FLAG"
	FlagQtySpecReq FlagName = "QTY_SPEC_REQ_FLAG"
	FlagGeneric    FlagName = "FLAG"
	FlagCompliance FlagName = "COMPLIANCE"
)

var knownFlags = map[FlagName]struct{}{
	FlagPM:         {},
	FlagCost:       {},
	FlagQtySpec:    {},
	FlagQtyScope:   {},
	FlagQtySpecReq: {},
	FlagGeneric:    {},
	FlagCompliance: {},
}

// IsKnownFlag сообщает, входит ли имя в фиксированный набор флагов.
func IsKnownFlag(f FlagName) bool {
	_, ok := knownFlags[f]
	return ok
}

// StepDefinition описывает один шаг согласования: порядок, роль и набор флагов.
type StepDefinition struct {
	Order           int        `json:"order" mapstructure:"order"`
	RequiredRole    string     `json:"required_role" mapstructure:"required_role"`
	RecognizedFlags []FlagName `json:"recognized_flags" mapstructure:"recognized_flags"`
}

// Recognizes проверяет, относится ли флаг к этому шагу.
func (s StepDefinition) Recognizes(f FlagName) bool {
	for _, rf := range s.RecognizedFlags {
		if rf == f {
			return true
		}
	}
	return false
}

// DocumentTypeDefinition: упорядоченный маршрут согласования для вида документа.
type DocumentTypeDefinition struct {
	DocumentType DocumentType     `json:"document_type" mapstructure:"document_type"`
	Steps        []StepDefinition `json:"steps" mapstructure:"steps"`
}

// Validate проверяет инварианты каталога: есть хотя бы один шаг,
// порядок непрерывный с нуля, роль задана, флаги известны.
// Шаги сортируются по Order на месте.
func (d *DocumentTypeDefinition) Validate() error {
	if d.DocumentType == "" {
		return fmt.Errorf("%w: document type is empty", ErrInvalidDefinition)
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("%w: %s has no steps", ErrInvalidDefinition, d.DocumentType)
	}

	sort.SliceStable(d.Steps, func(i, j int) bool { return d.Steps[i].Order < d.Steps[j].Order })

	for i, s := range d.Steps {
		if s.Order != i {
			return fmt.Errorf("%w: %s step orders must be contiguous from 0 (got %d at position %d)",
				ErrInvalidDefinition, d.DocumentType, s.Order, i)
		}
		if s.RequiredRole == "" {
			return fmt.Errorf("%w: %s step %d has no required role", ErrInvalidDefinition, d.DocumentType, i)
		}
		for _, f := range s.RecognizedFlags {
			if !IsKnownFlag(f) {
				return fmt.Errorf("%w: %s step %d recognizes unknown flag %q", ErrInvalidDefinition, d.DocumentType, i, f)
			}
		}
	}
	return nil
}

// Clone возвращает глубокую копию. Экземпляр workflow фиксирует копию
// при подаче, поэтому перезагрузка каталога его не затрагивает.
func (d DocumentTypeDefinition) Clone() DocumentTypeDefinition {
	out := DocumentTypeDefinition{DocumentType: d.DocumentType, Steps: make([]StepDefinition, len(d.Steps))}
	for i, s := range d.Steps {
		out.Steps[i] = StepDefinition{
			Order:           s.Order,
			RequiredRole:    s.RequiredRole,
			RecognizedFlags: append([]FlagName(nil), s.RecognizedFlags...),
		}
	}
	return out
}
