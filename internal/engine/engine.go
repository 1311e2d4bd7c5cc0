package engine

/*
Файл engine.go содержит ядро согласования: чистые функции переходов конечного
автомата документа. Движок не знает про хранилище, блокировки и уведомления:
он получает экземпляр, работает с его глубокой копией и возвращает новое
состояние вместе с ровно одной записью истории. Любой отказ валидации
оставляет исходный экземпляр и его версию нетронутыми.
*/

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/procurement-approvals/internal/domain"
)

type Engine struct {
	now   func() time.Time
	newID func() string
}

type Option func(*Engine)

// WithClock подменяет источник времени (в тестах фиксированные часы).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator подменяет генератор ID событий истории.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

func New(opts ...Option) *Engine {
	e := &Engine{
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// CreateDraft фиксирует документ в статусе draft до подачи на согласование.
func (e *Engine) CreateDraft(documentID string, def domain.DocumentTypeDefinition, actor domain.Actor) (*domain.WorkflowInstance, *domain.HistoryEvent, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, nil, fmt.Errorf("%w: document id is required", domain.ErrInvalidAction)
	}
	now := e.now()
	inst := &domain.WorkflowInstance{
		DocumentID:       documentID,
		DocumentType:     def.DocumentType,
		Status:           domain.StatusDraft,
		CurrentStepIndex: domain.NotSubmittedIndex,
		CreatedBy:        actor.Name,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	ev := e.record(inst, domain.HistoryEvent{
		Type:      domain.EventCreate,
		Action:    fmt.Sprintf("created %s draft", def.DocumentType),
		StepIndex: domain.NotSubmittedIndex,
	}, actor)
	return inst, ev, nil
}

// Submit вводит документ в движок на шаге 0. Маршрут (definition) копируется
// в экземпляр и дальше от каталога не зависит.
// existing: текущий экземпляр (nil, если документ ещё не сохранялся).
func (e *Engine) Submit(existing *domain.WorkflowInstance, documentID string, def domain.DocumentTypeDefinition, actor domain.Actor) (*domain.WorkflowInstance, *domain.HistoryEvent, error) {
	if len(def.Steps) == 0 {
		return nil, nil, fmt.Errorf("%w: %s has no steps", domain.ErrInvalidDefinition, def.DocumentType)
	}

	var inst *domain.WorkflowInstance
	switch {
	case existing == nil:
		if strings.TrimSpace(documentID) == "" {
			return nil, nil, fmt.Errorf("%w: document id is required", domain.ErrInvalidAction)
		}
		now := e.now()
		inst = &domain.WorkflowInstance{
			DocumentID:   documentID,
			DocumentType: def.DocumentType,
			CreatedBy:    actor.Name,
			CreatedAt:    now,
		}
	case existing.Status != domain.StatusDraft:
		return nil, nil, fmt.Errorf("%w: document %s is %s", domain.ErrAlreadySubmitted, existing.DocumentID, existing.Status)
	case existing.DocumentType != def.DocumentType:
		return nil, nil, fmt.Errorf("%w: draft is %s, submitted as %s", domain.ErrInvalidAction, existing.DocumentType, def.DocumentType)
	default:
		inst = existing.Clone()
	}

	snapshot := def.Clone()
	inst.Definition = snapshot.Steps
	inst.OriginStep = 0
	inst.Steps = make([]domain.StepState, len(snapshot.Steps))
	for i := range inst.Steps {
		inst.Steps[i] = domain.StepState{Status: domain.StepPending}
	}
	inst.Steps[0].Status = domain.StepInReview
	inst.CurrentStepIndex = 0
	inst.Status = domain.StatusInReview

	ev := e.record(inst, domain.HistoryEvent{
		Type:   domain.EventSubmit,
		Action: fmt.Sprintf("submitted for approval (%d steps)", len(snapshot.Steps)),
	}, actor)
	return inst, ev, nil
}

// Apply применяет approve / reject / revise к текущему шагу.
func (e *Engine) Apply(current *domain.WorkflowInstance, action domain.Action) (*domain.WorkflowInstance, *domain.HistoryEvent, error) {
	if current == nil {
		return nil, nil, domain.ErrNotFound
	}

	// 1. Состояние экземпляра
	if current.IsTerminal() {
		return nil, nil, fmt.Errorf("%w: document %s is %s", domain.ErrTerminalState, current.DocumentID, current.Status)
	}
	if current.Status != domain.StatusInReview {
		return nil, nil, fmt.Errorf("%w: document %s is %s", domain.ErrNotInReview, current.DocumentID, current.Status)
	}
	if !action.Kind.Valid() {
		return nil, nil, fmt.Errorf("%w: unsupported kind %q", domain.ErrInvalidAction, action.Kind)
	}

	// 2. Оптимистичная блокировка: отказываем устаревшим записям
	if err := checkVersion(current, action.ExpectedVersion); err != nil {
		return nil, nil, err
	}

	// 3. Допуск: действовать может только роль текущего шага
	stepDef, ok := current.CurrentStepDefinition()
	if !ok {
		return nil, nil, fmt.Errorf("%w: current step index %d out of range", domain.ErrInvalidAction, current.CurrentStepIndex)
	}
	if err := checkEligible(stepDef, action.Actor); err != nil {
		return nil, nil, err
	}

	// 4. Переход на копии
	inst := current.Clone()
	switch action.Kind {
	case domain.ActionApprove:
		return e.approve(inst, stepDef, action)
	case domain.ActionReject:
		return e.reject(inst, action)
	default:
		return e.revise(inst, action)
	}
}

func (e *Engine) approve(inst *domain.WorkflowInstance, def domain.StepDefinition, action domain.Action) (*domain.WorkflowInstance, *domain.HistoryEvent, error) {
	flags, warnings, err := resolveFlags(def, action.Flags)
	if err != nil {
		return nil, nil, err
	}

	idx := inst.CurrentStepIndex
	now := e.now()
	inst.Steps[idx] = domain.StepState{
		Status:      domain.StepApproved,
		Actor:       action.Actor.Name,
		ActorRole:   action.Actor.Role,
		ActedAt:     &now,
		Comments:    strings.TrimSpace(action.Comments),
		Flags:       flags,
		Warnings:    warnings,
		Attachments: append([]domain.AttachmentRef(nil), action.Attachments...),
	}

	next := idx + 1
	inst.CurrentStepIndex = next
	if next >= len(inst.Steps) {
		inst.Status = domain.StatusCompleted
	} else {
		inst.Steps[next].Status = domain.StepInReview
	}

	label := fmt.Sprintf("approved step %d (%s)", idx, def.RequiredRole)
	if len(warnings) > 0 {
		label += " with warnings"
	}
	ev := e.record(inst, domain.HistoryEvent{
		Type:        domain.EventApprove,
		Action:      label,
		StepIndex:   idx,
		Comments:    action.Comments,
		Flags:       copyFlags(flags),
		Attachments: append([]domain.AttachmentRef(nil), action.Attachments...),
	}, action.Actor)
	return inst, ev, nil
}

func (e *Engine) reject(inst *domain.WorkflowInstance, action domain.Action) (*domain.WorkflowInstance, *domain.HistoryEvent, error) {
	// комментарий проверяется раньше флагов: пустой комментарий всегда MissingRequiredComment
	comments := strings.TrimSpace(action.Comments)
	if comments == "" {
		return nil, nil, domain.ErrMissingRequiredComment
	}
	if len(action.Flags) > 0 {
		return nil, nil, fmt.Errorf("%w: flags can only be recorded by approve", domain.ErrUnknownFlag)
	}

	idx := inst.CurrentStepIndex
	now := e.now()
	inst.Steps[idx] = domain.StepState{
		Status:      domain.StepRejected,
		Actor:       action.Actor.Name,
		ActorRole:   action.Actor.Role,
		ActedAt:     &now,
		Comments:    comments,
		Attachments: append([]domain.AttachmentRef(nil), action.Attachments...),
	}
	inst.Status = domain.StatusRejected

	ev := e.record(inst, domain.HistoryEvent{
		Type:        domain.EventReject,
		Action:      fmt.Sprintf("rejected at step %d (%s)", idx, action.Actor.Role),
		StepIndex:   idx,
		Comments:    comments,
		Attachments: append([]domain.AttachmentRef(nil), action.Attachments...),
	}, action.Actor)
	return inst, ev, nil
}

// revise всегда возвращает документ на шаг инициатора, а не на предыдущий шаг:
// замечание по количеству/спецификации требует нового прохода создания.
// Действия согласующих после шага инициатора остаются в истории,
// но живой статус их шагов сбрасывается в pending.
func (e *Engine) revise(inst *domain.WorkflowInstance, action domain.Action) (*domain.WorkflowInstance, *domain.HistoryEvent, error) {
	comments := strings.TrimSpace(action.Comments)
	if comments == "" {
		return nil, nil, domain.ErrMissingRequiredComment
	}
	if len(action.Flags) > 0 {
		return nil, nil, fmt.Errorf("%w: flags can only be recorded by approve", domain.ErrUnknownFlag)
	}
	areas := normalizeAreas(action.RevisionAreas)
	if len(areas) == 0 {
		return nil, nil, domain.ErrMissingRevisionAreas
	}

	idx := inst.CurrentStepIndex
	origin := inst.OriginStep
	now := e.now()

	for i := origin + 1; i < len(inst.Steps); i++ {
		inst.Steps[i] = domain.StepState{Status: domain.StepPending}
	}
	inst.Steps[origin] = domain.StepState{
		Status:        domain.StepRevisionRequested,
		Actor:         action.Actor.Name,
		ActorRole:     action.Actor.Role,
		ActedAt:       &now,
		Comments:      comments,
		RevisionAreas: areas,
		Attachments:   append([]domain.AttachmentRef(nil), action.Attachments...),
	}
	inst.CurrentStepIndex = origin
	inst.Status = domain.StatusRevisionRequested

	ev := e.record(inst, domain.HistoryEvent{
		Type:          domain.EventRevise,
		Action:        fmt.Sprintf("revision requested at step %d, returned to step %d", idx, origin),
		StepIndex:     idx,
		Comments:      comments,
		RevisionAreas: append([]string(nil), areas...),
		Attachments:   append([]domain.AttachmentRef(nil), action.Attachments...),
	}, action.Actor)
	return inst, ev, nil
}

// Resubmit: владелец документа отвечает на запрос доработки. Шаг инициатора
// снова уходит в in-review с очищенными флагами; ранее согласованные шаги
// до него не меняются.
func (e *Engine) Resubmit(current *domain.WorkflowInstance, actor domain.Actor, expectedVersion int64, comments string) (*domain.WorkflowInstance, *domain.HistoryEvent, error) {
	if current == nil {
		return nil, nil, domain.ErrNotFound
	}
	if current.IsTerminal() {
		return nil, nil, fmt.Errorf("%w: document %s is %s", domain.ErrTerminalState, current.DocumentID, current.Status)
	}
	if current.Status != domain.StatusRevisionRequested {
		return nil, nil, fmt.Errorf("%w: document %s is %s, no revision pending", domain.ErrNotInReview, current.DocumentID, current.Status)
	}
	if err := checkVersion(current, expectedVersion); err != nil {
		return nil, nil, err
	}
	if err := checkEligible(current.Definition[current.OriginStep], actor); err != nil {
		return nil, nil, err
	}

	inst := current.Clone()
	inst.Steps[inst.OriginStep] = domain.StepState{Status: domain.StepInReview}
	inst.CurrentStepIndex = inst.OriginStep
	inst.Status = domain.StatusInReview

	ev := e.record(inst, domain.HistoryEvent{
		Type:      domain.EventReview,
		Action:    fmt.Sprintf("resubmitted for review at step %d", inst.OriginStep),
		StepIndex: inst.OriginStep,
		Comments:  comments,
	}, actor)
	return inst, ev, nil
}

// record увеличивает версию, проставляет время и добавляет ровно одно событие.
// Возвращается копия, не разделяющая память с историей экземпляра.
func (e *Engine) record(inst *domain.WorkflowInstance, ev domain.HistoryEvent, actor domain.Actor) *domain.HistoryEvent {
	now := e.now()
	inst.Version++
	inst.UpdatedAt = now

	ev.ID = e.newID()
	ev.ActorRole = actor.Role
	ev.ActorName = actor.Name
	ev.OccurredAt = now
	ev.Comments = strings.TrimSpace(ev.Comments)
	ev.Version = inst.Version

	inst.History = append(inst.History, ev)
	out := ev.Clone()
	return &out
}
