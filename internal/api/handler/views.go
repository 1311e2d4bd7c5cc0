package handler

import (
	"time"

	"github.com/xela07ax/procurement-approvals/internal/domain"
)

// Представления для API: camelCase и пустые списки вместо null.

type AttachmentView struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	UploadedBy  string    `json:"uploadedBy"`
	UploadedAt  time.Time `json:"uploadedAt"`
	StorageKey  string    `json:"storageKey"`
}

type StepView struct {
	Order         int                      `json:"order"`
	RequiredRole  string                   `json:"requiredRole"`
	Status        domain.StepStatus        `json:"status"`
	Actor         string                   `json:"actor,omitempty"`
	ActorRole     string                   `json:"actorRole,omitempty"`
	ActedAt       *time.Time               `json:"actedAt,omitempty"`
	Comments      string                   `json:"comments,omitempty"`
	Flags         map[domain.FlagName]bool `json:"flags,omitempty"`
	Warnings      []domain.FlagName        `json:"warnings"`
	Attachments   []AttachmentView         `json:"attachments"`
	RevisionAreas []string                 `json:"revisionAreas"`
}

type RoleView struct {
	ID    string          `json:"id"`
	Title string          `json:"title,omitempty"`
	Tier  domain.RoleTier `json:"tier,omitempty"`
}

type InstanceView struct {
	DocumentID       string                `json:"documentId"`
	DocumentType     domain.DocumentType   `json:"documentType"`
	Status           domain.WorkflowStatus `json:"status"`
	CurrentStepIndex int                   `json:"currentStepIndex"`
	OriginStep       int                   `json:"originStep"`
	Version          int64                 `json:"version"`
	Steps            []StepView            `json:"steps"`
	NextApproverRole *RoleView             `json:"nextApproverRole"`
	CreatedBy        string                `json:"createdBy"`
	CreatedAt        time.Time             `json:"createdAt"`
	UpdatedAt        time.Time             `json:"updatedAt"`
}

type EventView struct {
	ID            string                   `json:"id"`
	Type          domain.EventType         `json:"type"`
	Action        string                   `json:"action"`
	StepIndex     int                      `json:"stepIndex"`
	ActorRole     string                   `json:"actorRole"`
	ActorName     string                   `json:"actorName"`
	OccurredAt    time.Time                `json:"occurredAt"`
	Comments      string                   `json:"comments,omitempty"`
	Flags         map[domain.FlagName]bool `json:"flags,omitempty"`
	RevisionAreas []string                 `json:"revisionAreas,omitempty"`
	Attachments   []AttachmentView         `json:"attachments,omitempty"`
	Version       int64                    `json:"version"`
}

type StepDefinitionView struct {
	Order           int               `json:"order"`
	RequiredRole    string            `json:"requiredRole"`
	RecognizedFlags []domain.FlagName `json:"recognizedFlags"`
}

type DocumentTypeView struct {
	DocumentType domain.DocumentType  `json:"documentType"`
	Steps        []StepDefinitionView `json:"steps"`
}

func attachmentView(a domain.AttachmentRef) AttachmentView {
	return AttachmentView{
		ID:          a.ID,
		Filename:    a.Filename,
		ContentType: a.ContentType,
		SizeBytes:   a.SizeBytes,
		UploadedBy:  a.UploadedBy,
		UploadedAt:  a.UploadedAt,
		StorageKey:  a.StorageKey,
	}
}

func attachmentViews(in []domain.AttachmentRef) []AttachmentView {
	out := make([]AttachmentView, 0, len(in))
	for _, a := range in {
		out = append(out, attachmentView(a))
	}
	return out
}

func roleView(r *domain.Role) *RoleView {
	if r == nil {
		return nil
	}
	return &RoleView{ID: r.ID, Title: r.Title, Tier: r.Tier}
}

func instanceView(inst *domain.WorkflowInstance, next *domain.Role) InstanceView {
	steps := make([]StepView, 0, len(inst.Steps))
	for i, s := range inst.Steps {
		v := StepView{
			Order:         i,
			Status:        s.Status,
			Actor:         s.Actor,
			ActorRole:     s.ActorRole,
			ActedAt:       s.ActedAt,
			Comments:      s.Comments,
			Flags:         s.Flags,
			Warnings:      append([]domain.FlagName{}, s.Warnings...),
			Attachments:   attachmentViews(s.Attachments),
			RevisionAreas: append([]string{}, s.RevisionAreas...),
		}
		if i < len(inst.Definition) {
			v.RequiredRole = inst.Definition[i].RequiredRole
		}
		steps = append(steps, v)
	}
	return InstanceView{
		DocumentID:       inst.DocumentID,
		DocumentType:     inst.DocumentType,
		Status:           inst.Status,
		CurrentStepIndex: inst.CurrentStepIndex,
		OriginStep:       inst.OriginStep,
		Version:          inst.Version,
		Steps:            steps,
		NextApproverRole: roleView(next),
		CreatedBy:        inst.CreatedBy,
		CreatedAt:        inst.CreatedAt,
		UpdatedAt:        inst.UpdatedAt,
	}
}

// pendingRole: роль следующего согласующего без справки (ответ на изменяющий запрос).
func pendingRole(inst *domain.WorkflowInstance) *domain.Role {
	if id := inst.NextActorRole(); id != "" {
		return &domain.Role{ID: id}
	}
	return nil
}

func eventViews(in []domain.HistoryEvent) []EventView {
	out := make([]EventView, 0, len(in))
	for _, e := range in {
		v := EventView{
			ID:            e.ID,
			Type:          e.Type,
			Action:        e.Action,
			StepIndex:     e.StepIndex,
			ActorRole:     e.ActorRole,
			ActorName:     e.ActorName,
			OccurredAt:    e.OccurredAt,
			Comments:      e.Comments,
			Flags:         e.Flags,
			RevisionAreas: e.RevisionAreas,
		}
		if len(e.Attachments) > 0 {
			v.Attachments = attachmentViews(e.Attachments)
		}
		out = append(out, v)
	}
	return out
}

func documentTypeView(d domain.DocumentTypeDefinition) DocumentTypeView {
	steps := make([]StepDefinitionView, 0, len(d.Steps))
	for _, s := range d.Steps {
		steps = append(steps, StepDefinitionView{
			Order:           s.Order,
			RequiredRole:    s.RequiredRole,
			RecognizedFlags: append([]domain.FlagName{}, s.RecognizedFlags...),
		})
	}
	return DocumentTypeView{DocumentType: d.DocumentType, Steps: steps}
}
