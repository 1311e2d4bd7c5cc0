package catalog

import "github.com/xela07ax/procurement-approvals/internal/domain"

func step(order int, role string, flags ...domain.FlagName) domain.StepDefinition {
	return domain.StepDefinition{Order: order, RequiredRole: role, RecognizedFlags: flags}
}

// Defaults: встроенные маршруты согласования. Шаг 0 всегда принадлежит
// роли, создающей документ.
func Defaults() []domain.DocumentTypeDefinition {
	return []domain.DocumentTypeDefinition{
		{
			DocumentType: domain.DocPurchaseRequisition,
			Steps: []domain.StepDefinition{
				step(0, domain.RoleProcurement, domain.FlagQtySpec, domain.FlagQtyScope),
				step(1, domain.RoleProjectManager, domain.FlagPM),
				step(2, domain.RoleTechnicalDirector, domain.FlagCost),
			},
		},
		{
			DocumentType: domain.DocVendorQuotation,
			Steps: []domain.StepDefinition{
				step(0, domain.RoleProcurement),
				step(1, domain.RoleEstimation, domain.FlagCost),
				step(2, domain.RoleProjectManager, domain.FlagPM),
				step(3, domain.RoleTechnicalDirector, domain.FlagCompliance),
			},
		},
		{
			DocumentType: domain.DocMaterialRequisition,
			Steps: []domain.StepDefinition{
				step(0, domain.RoleSiteEngineer, domain.FlagQtySpecReq),
				step(1, domain.RoleProjectManager, domain.FlagPM, domain.FlagQtyScope),
				step(2, domain.RoleProcurement, domain.FlagGeneric),
			},
		},
		{
			DocumentType: domain.DocDeliveryNote,
			Steps: []domain.StepDefinition{
				step(0, domain.RoleStoreKeeper, domain.FlagQtySpec),
				step(1, domain.RoleSiteEngineer, domain.FlagGeneric),
				step(2, domain.RoleProcurement, domain.FlagCompliance),
			},
		},
		{
			DocumentType: domain.DocWorkOrder,
			Steps: []domain.StepDefinition{
				step(0, domain.RoleProcurement),
				step(1, domain.RoleProjectManager, domain.FlagPM),
				step(2, domain.RoleTechnicalDirector, domain.FlagCost, domain.FlagCompliance),
			},
		},
	}
}
