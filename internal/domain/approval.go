package domain

import "time"

// Статусы экземпляра workflow (State Machine)
type WorkflowStatus string

const (
	StatusDraft             WorkflowStatus = "draft"
	StatusInReview          WorkflowStatus = "in-review"
	StatusRevisionRequested WorkflowStatus = "revision-requested"
	StatusCompleted         WorkflowStatus = "completed"
	StatusRejected          WorkflowStatus = "rejected"
)

// Статусы отдельного шага
type StepStatus string

const (
	StepPending           StepStatus = "pending"
	StepInReview          StepStatus = "in-review"
	StepApproved          StepStatus = "approved"
	StepRejected          StepStatus = "rejected"
	StepRevisionRequested StepStatus = "revision-requested"
)

// EventType: тип записи в журнале истории.
type EventType string

const (
	EventCreate  EventType = "create"
	EventSubmit  EventType = "submit"
	EventReview  EventType = "review" // повторная подача после запроса на доработку
	EventApprove EventType = "approve"
	EventReject  EventType = "reject"
	EventRevise  EventType = "revise"
)

// NotSubmittedIndex: значение CurrentStepIndex до подачи документа.
const NotSubmittedIndex = -1

// StepState: живое состояние шага согласования.
type StepState struct {
	Status        StepStatus        `json:"status"`
	Actor         string            `json:"actor,omitempty"`
	ActorRole     string            `json:"actor_role,omitempty"`
	ActedAt       *time.Time        `json:"acted_at,omitempty"`
	Comments      string            `json:"comments,omitempty"`
	Flags         map[FlagName]bool `json:"flags,omitempty"`
	Warnings      []FlagName        `json:"warnings,omitempty"` // флаги, оставленные false при согласовании
	Attachments   []AttachmentRef   `json:"attachments,omitempty"`
	RevisionAreas []string          `json:"revision_areas,omitempty"`
}

// ApprovedWithWarnings: шаг согласован, но часть флагов не проставлена.
func (s StepState) ApprovedWithWarnings() bool {
	return s.Status == StepApproved && len(s.Warnings) > 0
}

// HistoryEvent: неизменяемая запись аудита "кто, что и когда".
type HistoryEvent struct {
	ID            string            `json:"id"`
	Type          EventType         `json:"type"`
	Action        string            `json:"action"`
	StepIndex     int               `json:"step_index"`
	ActorRole     string            `json:"actor_role"`
	ActorName     string            `json:"actor_name"`
	OccurredAt    time.Time         `json:"occurred_at"`
	Comments      string            `json:"comments,omitempty"`
	Flags         map[FlagName]bool `json:"flags,omitempty"`
	RevisionAreas []string          `json:"revision_areas,omitempty"`
	Attachments   []AttachmentRef   `json:"attachments,omitempty"`
	Version       int64             `json:"version"` // версия экземпляра после события
}

// WorkflowInstance: путь согласования одного документа.
type WorkflowInstance struct {
	DocumentID       string           `json:"document_id"`
	DocumentType     DocumentType     `json:"document_type"`
	Status           WorkflowStatus   `json:"status"`
	CurrentStepIndex int              `json:"current_step_index"`
	OriginStep       int              `json:"origin_step"`
	Definition       []StepDefinition `json:"definition"` // зафиксирован при подаче
	Steps            []StepState      `json:"steps"`
	History          []HistoryEvent   `json:"-"`
	Version          int64            `json:"version"`
	CreatedBy        string           `json:"created_by"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// IsTerminal: дальнейшие действия не принимаются.
func (w *WorkflowInstance) IsTerminal() bool {
	return w.Status == StatusCompleted || w.Status == StatusRejected
}

// CurrentStepDefinition возвращает определение текущего шага,
// если индекс указывает внутрь маршрута.
func (w *WorkflowInstance) CurrentStepDefinition() (StepDefinition, bool) {
	if w.CurrentStepIndex < 0 || w.CurrentStepIndex >= len(w.Definition) {
		return StepDefinition{}, false
	}
	return w.Definition[w.CurrentStepIndex], true
}

// NextActorRole: роль, от которой ожидается следующее действие.
// Пустая строка для черновика и терминальных состояний.
func (w *WorkflowInstance) NextActorRole() string {
	if w.Status != StatusInReview && w.Status != StatusRevisionRequested {
		return ""
	}
	def, ok := w.CurrentStepDefinition()
	if !ok {
		return ""
	}
	return def.RequiredRole
}

// InReviewCount считает шаги в статусе in-review. Для активного экземпляра ровно один.
func (w *WorkflowInstance) InReviewCount() int {
	n := 0
	for _, s := range w.Steps {
		if s.Status == StepInReview {
			n++
		}
	}
	return n
}

// Clone делает глубокую копию: движок мутирует только копию,
// поэтому неуспешный вызов не оставляет следов в исходном экземпляре.
func (w *WorkflowInstance) Clone() *WorkflowInstance {
	if w == nil {
		return nil
	}
	out := *w

	out.Definition = make([]StepDefinition, len(w.Definition))
	for i, d := range w.Definition {
		out.Definition[i] = StepDefinition{
			Order:           d.Order,
			RequiredRole:    d.RequiredRole,
			RecognizedFlags: append([]FlagName(nil), d.RecognizedFlags...),
		}
	}

	out.Steps = make([]StepState, len(w.Steps))
	for i, s := range w.Steps {
		out.Steps[i] = s.clone()
	}

	out.History = make([]HistoryEvent, len(w.History))
	for i, e := range w.History {
		out.History[i] = e.Clone()
	}
	return &out
}

func (s StepState) clone() StepState {
	out := s
	if s.ActedAt != nil {
		t := *s.ActedAt
		out.ActedAt = &t
	}
	out.Flags = cloneFlags(s.Flags)
	out.Warnings = append([]FlagName(nil), s.Warnings...)
	out.Attachments = append([]AttachmentRef(nil), s.Attachments...)
	out.RevisionAreas = append([]string(nil), s.RevisionAreas...)
	return out
}

// Clone возвращает копию события, не разделяющую map и slice с оригиналом.
func (e HistoryEvent) Clone() HistoryEvent {
	out := e
	out.Flags = cloneFlags(e.Flags)
	out.RevisionAreas = append([]string(nil), e.RevisionAreas...)
	out.Attachments = append([]AttachmentRef(nil), e.Attachments...)
	return out
}

func cloneFlags(in map[FlagName]bool) map[FlagName]bool {
	if in == nil {
		return nil
	}
	out := make(map[FlagName]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
