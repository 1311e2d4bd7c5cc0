package domain

// RoleTier: уровень роли в организационной структуре.
type RoleTier string

const (
	TierManagement RoleTier = "management"
	TierOperations RoleTier = "operations"
	TierSupport    RoleTier = "support"
)

// Идентификаторы ролей, используемые встроенным каталогом документов.
const (
	RoleProcurement       = "procurement"
	RoleProjectManager    = "project_manager"
	RoleTechnicalDirector = "technical_director"
	RoleEstimation        = "estimation"
	RoleSiteEngineer      = "site_engineer"
	RoleStoreKeeper       = "store_keeper"
)

// Role: справочная запись о роли. Неизменяема.
type Role struct {
	ID    string   `json:"id" mapstructure:"id"`
	Title string   `json:"title" mapstructure:"title"`
	Tier  RoleTier `json:"tier" mapstructure:"tier"`
}

func (t RoleTier) Valid() bool {
	switch t {
	case TierManagement, TierOperations, TierSupport:
		return true
	}
	return false
}
