package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/procurement-approvals/internal/catalog"
	"github.com/xela07ax/procurement-approvals/internal/domain"
)

var (
	procurement = domain.Actor{Role: domain.RoleProcurement, Name: "Nadia"}
	pm          = domain.Actor{Role: domain.RoleProjectManager, Name: "Omar"}
	techDir     = domain.Actor{Role: domain.RoleTechnicalDirector, Name: "Lena"}
	estimation  = domain.Actor{Role: domain.RoleEstimation, Name: "Ivan"}
)

func newTestEngine() *Engine {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	seq := 0
	return New(
		WithClock(func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Minute)
		}),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("evt-%03d", seq)
		}),
	)
}

func definition(t *testing.T, dt domain.DocumentType) domain.DocumentTypeDefinition {
	t.Helper()
	def, err := catalog.NewDefault().DefinitionFor(dt)
	require.NoError(t, err)
	return def
}

func submitted(t *testing.T, e *Engine, dt domain.DocumentType) *domain.WorkflowInstance {
	t.Helper()
	inst, ev, err := e.Submit(nil, "DOC-1", definition(t, dt), procurement)
	require.NoError(t, err)
	require.Equal(t, domain.EventSubmit, ev.Type)
	return inst
}

func mustApply(t *testing.T, e *Engine, inst *domain.WorkflowInstance, a domain.Action) *domain.WorkflowInstance {
	t.Helper()
	a.ExpectedVersion = inst.Version
	next, _, err := e.Apply(inst, a)
	require.NoError(t, err)
	require.NoError(t, CheckInvariants(next))
	return next
}

func approve(actor domain.Actor, flags map[domain.FlagName]bool) domain.Action {
	return domain.Action{Kind: domain.ActionApprove, Actor: actor, Flags: flags}
}

func TestSubmit(t *testing.T) {
	e := newTestEngine()
	inst := submitted(t, e, domain.DocPurchaseRequisition)

	assert.Equal(t, domain.StatusInReview, inst.Status)
	assert.Equal(t, 0, inst.CurrentStepIndex)
	assert.Equal(t, int64(1), inst.Version)
	require.Len(t, inst.Steps, 3)
	assert.Equal(t, domain.StepInReview, inst.Steps[0].Status)
	assert.Equal(t, domain.StepPending, inst.Steps[1].Status)
	assert.Equal(t, domain.StepPending, inst.Steps[2].Status)
	assert.Equal(t, domain.RoleProcurement, inst.NextActorRole())
	require.Len(t, inst.History, 1)
	assert.NoError(t, CheckInvariants(inst))
}

func TestSubmit_FromDraft(t *testing.T) {
	e := newTestEngine()
	def := definition(t, domain.DocWorkOrder)

	draft, ev, err := e.CreateDraft("WO-7", def, procurement)
	require.NoError(t, err)
	assert.Equal(t, domain.EventCreate, ev.Type)
	assert.Equal(t, domain.StatusDraft, draft.Status)
	assert.Equal(t, domain.NotSubmittedIndex, draft.CurrentStepIndex)
	assert.Empty(t, draft.NextActorRole())
	require.NoError(t, CheckInvariants(draft))

	inst, _, err := e.Submit(draft, "WO-7", def, procurement)
	require.NoError(t, err)
	assert.Equal(t, int64(2), inst.Version)
	assert.Len(t, inst.History, 2)
	assert.Equal(t, domain.StatusDraft, draft.Status, "draft must not be mutated")

	_, _, err = e.Submit(inst, "WO-7", def, procurement)
	assert.ErrorIs(t, err, domain.ErrAlreadySubmitted)

	_, _, err = e.Submit(draft, "WO-7", definition(t, domain.DocDeliveryNote), procurement)
	assert.ErrorIs(t, err, domain.ErrInvalidAction)
}

// Сценарий A: доработка всегда возвращает документ на шаг инициатора,
// даже если ее запросил не следующий за ним шаг.
func TestScenarioA_ReviseReturnsToOriginStep(t *testing.T) {
	e := newTestEngine()
	inst := submitted(t, e, domain.DocPurchaseRequisition)

	inst = mustApply(t, e, inst, approve(procurement, map[domain.FlagName]bool{domain.FlagQtySpec: true}))
	assert.Equal(t, 1, inst.CurrentStepIndex)
	assert.True(t, inst.Steps[0].Flags[domain.FlagQtySpec])

	inst = mustApply(t, e, inst, domain.Action{
		Kind:          domain.ActionRevise,
		Actor:         pm,
		Comments:      "Quantities do not match the BOQ",
		RevisionAreas: []string{"Quantity Adjustment"},
	})
	assert.Equal(t, domain.StatusRevisionRequested, inst.Status)
	assert.Equal(t, 0, inst.CurrentStepIndex)
	assert.Equal(t, domain.StepRevisionRequested, inst.Steps[0].Status)
	assert.Equal(t, []string{"Quantity Adjustment"}, inst.Steps[0].RevisionAreas)
	assert.Equal(t, domain.StepPending, inst.Steps[1].Status)
	assert.Equal(t, domain.StepPending, inst.Steps[2].Status)
	assert.Equal(t, domain.RoleProcurement, inst.NextActorRole())

	// approve во время доработки недопустим
	_, _, err := e.Apply(inst, domain.Action{Kind: domain.ActionApprove, Actor: procurement, ExpectedVersion: inst.Version})
	assert.ErrorIs(t, err, domain.ErrNotInReview)

	// переподать может только роль шага инициатора
	_, _, err = e.Resubmit(inst, pm, inst.Version, "")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	inst, ev, err := e.Resubmit(inst, procurement, inst.Version, "quantities corrected")
	require.NoError(t, err)
	require.NoError(t, CheckInvariants(inst))
	assert.Equal(t, domain.EventReview, ev.Type)
	assert.Equal(t, domain.StatusInReview, inst.Status)
	assert.Equal(t, domain.StepInReview, inst.Steps[0].Status)
	assert.Empty(t, inst.Steps[0].Flags)

	// действие PM сохранилось в истории, хотя живой статус шага сброшен
	types := make([]domain.EventType, 0, len(inst.History))
	for _, h := range inst.History {
		types = append(types, h.Type)
	}
	assert.Equal(t, []domain.EventType{
		domain.EventSubmit, domain.EventApprove, domain.EventRevise, domain.EventReview,
	}, types)
	assert.Equal(t, domain.RoleProjectManager, inst.History[2].ActorRole)
	assert.Equal(t, 1, inst.History[2].StepIndex)
	assert.Equal(t, []string{"Quantity Adjustment"}, inst.History[2].RevisionAreas)
}

func TestRevise_FromLastStepStillReturnsToOrigin(t *testing.T) {
	e := newTestEngine()
	inst := submitted(t, e, domain.DocPurchaseRequisition)
	inst = mustApply(t, e, inst, approve(procurement, nil))
	inst = mustApply(t, e, inst, approve(pm, nil))

	inst = mustApply(t, e, inst, domain.Action{
		Kind:          domain.ActionRevise,
		Actor:         techDir,
		Comments:      "spec mismatch",
		RevisionAreas: []string{" Specification ", "Specification", ""},
	})
	assert.Equal(t, 0, inst.CurrentStepIndex)
	assert.Equal(t, inst.OriginStep, inst.CurrentStepIndex)
	assert.Equal(t, []string{"Specification"}, inst.Steps[0].RevisionAreas)
	assert.Equal(t, domain.StepPending, inst.Steps[1].Status)
	assert.Equal(t, domain.StepPending, inst.Steps[2].Status)
}

// Сценарий B: роль не совпадает с ролью шага, старшинство не помогает.
func TestScenarioB_WrongRoleIsNotAuthorized(t *testing.T) {
	e := newTestEngine()
	inst := submitted(t, e, domain.DocPurchaseRequisition)
	inst = mustApply(t, e, inst, approve(procurement, nil))
	inst = mustApply(t, e, inst, approve(pm, nil))
	require.Equal(t, domain.RoleTechnicalDirector, inst.NextActorRole())

	before := inst.Clone()
	_, _, err := e.Apply(inst, domain.Action{
		Kind:            domain.ActionApprove,
		Actor:           estimation,
		ExpectedVersion: inst.Version,
	})
	require.ErrorIs(t, err, domain.ErrNotAuthorized)
	assert.Equal(t, before, inst)
	assert.Equal(t, before.Version, inst.Version)

	_, _, err = e.Apply(inst, domain.Action{
		Kind:            domain.ActionApprove,
		Actor:           domain.Actor{Name: "anonymous"},
		ExpectedVersion: inst.Version,
	})
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
}

// Сценарий C: отказ на последнем шаге терминален.
func TestScenarioC_RejectAtLastStepIsTerminal(t *testing.T) {
	e := newTestEngine()
	inst := submitted(t, e, domain.DocPurchaseRequisition)
	inst = mustApply(t, e, inst, approve(procurement, nil))
	inst = mustApply(t, e, inst, approve(pm, nil))

	inst = mustApply(t, e, inst, domain.Action{Kind: domain.ActionReject, Actor: techDir, Comments: "over budget"})
	assert.Equal(t, domain.StatusRejected, inst.Status)
	assert.Equal(t, 2, inst.CurrentStepIndex)
	assert.Equal(t, domain.StepRejected, inst.Steps[2].Status)
	assert.Empty(t, inst.NextActorRole())

	historyLen := len(inst.History)
	_, _, err := e.Apply(inst, approve(techDir, nil))
	require.ErrorIs(t, err, domain.ErrTerminalState)
	assert.Len(t, inst.History, historyLen)
}

func TestApprove_LastStepCompletes(t *testing.T) {
	e := newTestEngine()
	inst := submitted(t, e, domain.DocPurchaseRequisition)
	inst = mustApply(t, e, inst, approve(procurement, nil))
	inst = mustApply(t, e, inst, approve(pm, nil))
	inst = mustApply(t, e, inst, approve(techDir, map[domain.FlagName]bool{domain.FlagCost: true}))

	assert.Equal(t, domain.StatusCompleted, inst.Status)
	assert.Equal(t, len(inst.Steps), inst.CurrentStepIndex)
	assert.Zero(t, inst.InReviewCount())
	assert.Empty(t, inst.NextActorRole())

	// N шагов + событие подачи
	assert.Len(t, inst.History, len(inst.Steps)+1)
	assert.Equal(t, int64(len(inst.Steps)+1), inst.Version)

	for _, a := range []domain.Action{
		approve(techDir, nil),
		{Kind: domain.ActionReject, Actor: techDir, Comments: "late", ExpectedVersion: inst.Version},
	} {
		_, _, err := e.Apply(inst, a)
		assert.ErrorIs(t, err, domain.ErrTerminalState)
	}
}

func TestApprove_WithWarnings(t *testing.T) {
	e := newTestEngine()
	inst := submitted(t, e, domain.DocPurchaseRequisition)

	next, ev, err := e.Apply(inst, domain.Action{
		Kind:            domain.ActionApprove,
		Actor:           procurement,
		Flags:           map[domain.FlagName]bool{domain.FlagQtySpec: true},
		ExpectedVersion: inst.Version,
	})
	require.NoError(t, err)

	step := next.Steps[0]
	assert.True(t, step.ApprovedWithWarnings())
	assert.Equal(t, map[domain.FlagName]bool{domain.FlagQtySpec: true, domain.FlagQtyScope: false}, step.Flags)
	assert.Equal(t, []domain.FlagName{domain.FlagQtyScope}, step.Warnings)
	assert.Equal(t, 1, next.CurrentStepIndex, "flags never block progress")
	assert.Contains(t, ev.Action, "with warnings")
	assert.Equal(t, step.Flags, ev.Flags)

	// снимок флагов в истории не разделяет память со шагом
	next.Steps[0].Flags[domain.FlagQtyScope] = true
	assert.False(t, next.History[1].Flags[domain.FlagQtyScope])
}

func TestApprove_StepWithoutFlags(t *testing.T) {
	e := newTestEngine()
	inst := submitted(t, e, domain.DocVendorQuotation)

	next := mustApply(t, e, inst, approve(procurement, nil))
	assert.False(t, next.Steps[0].ApprovedWithWarnings())
	assert.Nil(t, next.Steps[0].Flags)
}

func TestApply_ValidationFailuresLeaveStateUntouched(t *testing.T) {
	tests := []struct {
		name   string
		action domain.Action
		want   error
	}{
		{
			name:   "reject without comment",
			action: domain.Action{Kind: domain.ActionReject, Actor: procurement, Comments: "   "},
			want:   domain.ErrMissingRequiredComment,
		},
		{
			name:   "revise without comment",
			action: domain.Action{Kind: domain.ActionRevise, Actor: procurement, RevisionAreas: []string{"Scope"}},
			want:   domain.ErrMissingRequiredComment,
		},
		{
			name:   "revise without areas",
			action: domain.Action{Kind: domain.ActionRevise, Actor: procurement, Comments: "fix", RevisionAreas: []string{" "}},
			want:   domain.ErrMissingRevisionAreas,
		},
		{
			name:   "flag not recognized by step",
			action: approve(procurement, map[domain.FlagName]bool{domain.FlagPM: true}),
			want:   domain.ErrUnknownFlag,
		},
		{
			name:   "flag outside the known set",
			action: approve(procurement, map[domain.FlagName]bool{"BUDGET_FLAG": true}),
			want:   domain.ErrUnknownFlag,
		},
		{
			name: "flags on reject",
			action: domain.Action{
				Kind: domain.ActionReject, Actor: procurement, Comments: "no",
				Flags: map[domain.FlagName]bool{domain.FlagQtySpec: true},
			},
			want: domain.ErrUnknownFlag,
		},
		{
			name: "reject without comment but with flags",
			action: domain.Action{
				Kind: domain.ActionReject, Actor: procurement,
				Flags: map[domain.FlagName]bool{domain.FlagQtySpec: true},
			},
			want: domain.ErrMissingRequiredComment,
		},
		{
			name: "revise without comment but with flags",
			action: domain.Action{
				Kind: domain.ActionRevise, Actor: procurement, RevisionAreas: []string{"Scope"},
				Flags: map[domain.FlagName]bool{domain.FlagQtySpec: true},
			},
			want: domain.ErrMissingRequiredComment,
		},
		{
			name:   "unsupported kind",
			action: domain.Action{Kind: "escalate", Actor: procurement},
			want:   domain.ErrInvalidAction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine()
			inst := submitted(t, e, domain.DocPurchaseRequisition)
			before := inst.Clone()

			tt.action.ExpectedVersion = inst.Version
			next, ev, err := e.Apply(inst, tt.action)
			require.ErrorIs(t, err, tt.want)
			assert.Nil(t, next)
			assert.Nil(t, ev)
			assert.Equal(t, before, inst)
		})
	}
}

func TestApply_StaleVersion(t *testing.T) {
	e := newTestEngine()
	inst := submitted(t, e, domain.DocPurchaseRequisition)

	a := approve(procurement, nil)
	a.ExpectedVersion = inst.Version
	next, _, err := e.Apply(inst, a)
	require.NoError(t, err)

	// второй вызов с той же ожидаемой версией проигрывает
	_, _, err = e.Apply(next, domain.Action{Kind: domain.ActionApprove, Actor: pm, ExpectedVersion: a.ExpectedVersion})
	assert.ErrorIs(t, err, domain.ErrStaleTransition)
}

func TestDefinitionSnapshot_SurvivesCatalogReplace(t *testing.T) {
	e := newTestEngine()
	c := catalog.NewDefault()

	def, err := c.DefinitionFor(domain.DocPurchaseRequisition)
	require.NoError(t, err)
	inst, _, err := e.Submit(nil, "PR-9", def, procurement)
	require.NoError(t, err)

	require.NoError(t, c.Replace([]domain.DocumentTypeDefinition{{
		DocumentType: domain.DocPurchaseRequisition,
		Steps:        []domain.StepDefinition{{Order: 0, RequiredRole: domain.RoleEstimation}},
	}}))
	def.Steps[0].RequiredRole = "mutated"

	require.Len(t, inst.Definition, 3)
	assert.Equal(t, domain.RoleProcurement, inst.Definition[0].RequiredRole)

	inst = mustApply(t, e, inst, approve(procurement, nil))
	assert.Equal(t, domain.RoleProjectManager, inst.NextActorRole())
}

func TestInvariants_HoldAcrossEveryTransition(t *testing.T) {
	e := newTestEngine()
	inst := submitted(t, e, domain.DocVendorQuotation)

	steps := []func(*domain.WorkflowInstance) (*domain.WorkflowInstance, *domain.HistoryEvent, error){
		func(i *domain.WorkflowInstance) (*domain.WorkflowInstance, *domain.HistoryEvent, error) {
			return e.Apply(i, domain.Action{Kind: domain.ActionApprove, Actor: procurement, ExpectedVersion: i.Version})
		},
		func(i *domain.WorkflowInstance) (*domain.WorkflowInstance, *domain.HistoryEvent, error) {
			return e.Apply(i, domain.Action{Kind: domain.ActionApprove, Actor: estimation, ExpectedVersion: i.Version})
		},
		func(i *domain.WorkflowInstance) (*domain.WorkflowInstance, *domain.HistoryEvent, error) {
			return e.Apply(i, domain.Action{
				Kind: domain.ActionRevise, Actor: pm, Comments: "rates", RevisionAreas: []string{"Cost"}, ExpectedVersion: i.Version,
			})
		},
		func(i *domain.WorkflowInstance) (*domain.WorkflowInstance, *domain.HistoryEvent, error) {
			return e.Resubmit(i, procurement, i.Version, "")
		},
		func(i *domain.WorkflowInstance) (*domain.WorkflowInstance, *domain.HistoryEvent, error) {
			return e.Apply(i, domain.Action{Kind: domain.ActionApprove, Actor: procurement, ExpectedVersion: i.Version})
		},
		func(i *domain.WorkflowInstance) (*domain.WorkflowInstance, *domain.HistoryEvent, error) {
			return e.Apply(i, domain.Action{Kind: domain.ActionApprove, Actor: estimation, ExpectedVersion: i.Version})
		},
		func(i *domain.WorkflowInstance) (*domain.WorkflowInstance, *domain.HistoryEvent, error) {
			return e.Apply(i, domain.Action{Kind: domain.ActionApprove, Actor: pm, ExpectedVersion: i.Version})
		},
		func(i *domain.WorkflowInstance) (*domain.WorkflowInstance, *domain.HistoryEvent, error) {
			return e.Apply(i, domain.Action{Kind: domain.ActionApprove, Actor: techDir, ExpectedVersion: i.Version})
		},
	}

	for n, step := range steps {
		prevLen := len(inst.History)
		prev := inst.Clone().History
		next, ev, err := step(inst)
		require.NoError(t, err, "transition %d", n)
		require.NoError(t, CheckInvariants(next), "transition %d", n)
		assert.LessOrEqual(t, next.InReviewCount(), 1)
		require.Len(t, next.History, prevLen+1)
		// прежние события не меняются ни в новом экземпляре, ни во входном
		assert.Equal(t, prev, cloneEvents(next.History[:prevLen]), "transition %d", n)
		assert.Equal(t, prev, cloneEvents(inst.History), "transition %d", n)
		assert.Equal(t, *ev, next.History[prevLen].Clone(), "transition %d", n)
		assert.Equal(t, inst.Version+1, next.Version)
		assert.Equal(t, next.Version, ev.Version)
		inst = next
	}
	assert.Equal(t, domain.StatusCompleted, inst.Status)
}

func cloneEvents(in []domain.HistoryEvent) []domain.HistoryEvent {
	out := make([]domain.HistoryEvent, len(in))
	for i, e := range in {
		out[i] = e.Clone()
	}
	return out
}

func TestResubmit_Guards(t *testing.T) {
	e := newTestEngine()
	inst := submitted(t, e, domain.DocPurchaseRequisition)

	_, _, err := e.Resubmit(inst, procurement, inst.Version, "")
	assert.ErrorIs(t, err, domain.ErrNotInReview)

	inst = mustApply(t, e, inst, domain.Action{
		Kind: domain.ActionRevise, Actor: procurement, Comments: "self check", RevisionAreas: []string{"Scope"},
	})
	_, _, err = e.Resubmit(inst, procurement, inst.Version-1, "")
	assert.ErrorIs(t, err, domain.ErrStaleTransition)
}
