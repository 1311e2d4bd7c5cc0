package engine

import (
	"fmt"
	"strings"

	"github.com/xela07ax/procurement-approvals/internal/domain"
)

func checkVersion(inst *domain.WorkflowInstance, expected int64) error {
	if expected != inst.Version {
		return fmt.Errorf("%w: expected %d, current %d", domain.ErrStaleTransition, expected, inst.Version)
	}
	return nil
}

// checkEligible: действовать может только роль, привязанная к шагу.
// Старшинство роли (tier) здесь не учитывается.
func checkEligible(def domain.StepDefinition, actor domain.Actor) error {
	if actor.Role == "" {
		return fmt.Errorf("%w: actor role is empty", domain.ErrNotAuthorized)
	}
	if actor.Role != def.RequiredRole {
		return fmt.Errorf("%w: step %d requires %s, got %s", domain.ErrNotAuthorized, def.Order, def.RequiredRole, actor.Role)
	}
	return nil
}

// resolveFlags сверяет флаги действия с набором шага.
// Неизвестный флаг отклоняет действие целиком. Не переданные флаги
// записываются как false и попадают в warnings, продвижение они не блокируют.
func resolveFlags(def domain.StepDefinition, in map[domain.FlagName]bool) (map[domain.FlagName]bool, []domain.FlagName, error) {
	for name := range in {
		if !def.Recognizes(name) {
			return nil, nil, fmt.Errorf("%w: %q at step %d (%s)", domain.ErrUnknownFlag, name, def.Order, def.RequiredRole)
		}
	}
	if len(def.RecognizedFlags) == 0 {
		return nil, nil, nil
	}

	flags := make(map[domain.FlagName]bool, len(def.RecognizedFlags))
	var warnings []domain.FlagName
	for _, name := range def.RecognizedFlags {
		v := in[name]
		flags[name] = v
		if !v {
			warnings = append(warnings, name)
		}
	}
	return flags, warnings, nil
}

// normalizeAreas: trim, без пустых строк и дублей, порядок сохраняется.
func normalizeAreas(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, a := range in {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

func copyFlags(in map[domain.FlagName]bool) map[domain.FlagName]bool {
	if in == nil {
		return nil
	}
	out := make(map[domain.FlagName]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// CheckInvariants проверяет согласованность живого состояния экземпляра.
// Сервис проверяет результат каждого перехода перед сохранением.
func CheckInvariants(inst *domain.WorkflowInstance) error {
	n := len(inst.Steps)
	if inst.Status == domain.StatusDraft {
		if inst.CurrentStepIndex != domain.NotSubmittedIndex || n != 0 {
			return fmt.Errorf("draft %s must have no steps and index %d", inst.DocumentID, domain.NotSubmittedIndex)
		}
		return nil
	}
	if n != len(inst.Definition) {
		return fmt.Errorf("%s: %d step states for %d definitions", inst.DocumentID, n, len(inst.Definition))
	}

	inReview := inst.InReviewCount()
	switch inst.Status {
	case domain.StatusInReview:
		if inReview != 1 {
			return fmt.Errorf("%s: %d steps in review, want 1", inst.DocumentID, inReview)
		}
		idx := inst.CurrentStepIndex
		if idx < 0 || idx >= n || inst.Steps[idx].Status != domain.StepInReview {
			return fmt.Errorf("%s: current step %d is not in review", inst.DocumentID, idx)
		}
		for i := 0; i < idx; i++ {
			if inst.Steps[i].Status != domain.StepApproved {
				return fmt.Errorf("%s: step %d before current is %s", inst.DocumentID, i, inst.Steps[i].Status)
			}
		}
		for i := idx + 1; i < n; i++ {
			if inst.Steps[i].Status != domain.StepPending {
				return fmt.Errorf("%s: step %d after current is %s", inst.DocumentID, i, inst.Steps[i].Status)
			}
		}
	case domain.StatusRevisionRequested:
		if inReview != 0 {
			return fmt.Errorf("%s: %d steps in review while awaiting revision", inst.DocumentID, inReview)
		}
		if inst.CurrentStepIndex != inst.OriginStep || inst.Steps[inst.OriginStep].Status != domain.StepRevisionRequested {
			return fmt.Errorf("%s: origin step %d is not awaiting revision", inst.DocumentID, inst.OriginStep)
		}
	case domain.StatusCompleted:
		if inst.CurrentStepIndex != n {
			return fmt.Errorf("%s: completed with index %d, want %d", inst.DocumentID, inst.CurrentStepIndex, n)
		}
		for i, s := range inst.Steps {
			if s.Status != domain.StepApproved {
				return fmt.Errorf("%s: completed but step %d is %s", inst.DocumentID, i, s.Status)
			}
		}
	case domain.StatusRejected:
		if inReview != 0 {
			return fmt.Errorf("%s: %d steps in review after rejection", inst.DocumentID, inReview)
		}
	default:
		return fmt.Errorf("%s: unknown status %q", inst.DocumentID, inst.Status)
	}

	// Версии в истории строго возрастают и последняя совпадает с версией экземпляра
	for i := 1; i < len(inst.History); i++ {
		if inst.History[i].Version <= inst.History[i-1].Version {
			return fmt.Errorf("%s: history versions are not monotonic at %d", inst.DocumentID, i)
		}
	}
	if h := len(inst.History); h > 0 && inst.History[h-1].Version != inst.Version {
		return fmt.Errorf("%s: last event version %d, instance version %d", inst.DocumentID, inst.History[h-1].Version, inst.Version)
	}
	return nil
}
