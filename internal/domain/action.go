package domain

// ActionKind: решение согласующего по текущему шагу.
type ActionKind string

const (
	ActionApprove ActionKind = "approve"
	ActionReject  ActionKind = "reject"
	ActionRevise  ActionKind = "revise"
)

func (k ActionKind) Valid() bool {
	switch k {
	case ActionApprove, ActionReject, ActionRevise:
		return true
	}
	return false
}

// Actor: кто действует: роль определяет допуск к шагу, имя идет в аудит.
type Actor struct {
	Role string `json:"actor_role"`
	Name string `json:"actor_name"`
}

// Action: входящее действие над экземпляром workflow.
type Action struct {
	Kind            ActionKind        `json:"kind"`
	Actor           Actor             `json:"actor"`
	Comments        string            `json:"comments,omitempty"`
	Flags           map[FlagName]bool `json:"flags,omitempty"`
	Attachments     []AttachmentRef   `json:"attachments,omitempty"`
	RevisionAreas   []string          `json:"revision_areas,omitempty"`
	ExpectedVersion int64             `json:"expected_version"`
}
