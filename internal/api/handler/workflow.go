package handler

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/procurement-approvals/internal/domain"
	"github.com/xela07ax/procurement-approvals/internal/infra/auth"
	"github.com/xela07ax/procurement-approvals/internal/workflow"
	"go.uber.org/zap"
)

// WorkflowService: то, что обработчикам нужно от сервиса согласований.
type WorkflowService interface {
	CreateDraft(ctx context.Context, req workflow.SubmitRequest) (*domain.WorkflowInstance, error)
	Submit(ctx context.Context, req workflow.SubmitRequest) (*domain.WorkflowInstance, error)
	Act(ctx context.Context, req workflow.ActionRequest) (*domain.WorkflowInstance, error)
	Resubmit(ctx context.Context, req workflow.ResubmitRequest) (*domain.WorkflowInstance, error)
	Get(ctx context.Context, documentID string) (*workflow.Snapshot, error)
	History(ctx context.Context, documentID string) ([]domain.HistoryEvent, error)
	UploadAttachment(ctx context.Context, documentID string, actor domain.Actor, u workflow.Upload) (domain.AttachmentRef, error)
	Attachment(ctx context.Context, documentID, attachmentID string) (domain.AttachmentRef, []byte, error)
}

type WorkflowHandler struct {
	service WorkflowService
	logger  *zap.Logger
}

func NewWorkflowHandler(s WorkflowService, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{service: s, logger: logger.Named("workflow-handler")}
}

type actorFields struct {
	ActorRole string `json:"actorRole"`
	ActorName string `json:"actorName"`
}

// actor: токен (если привязка включена) важнее полей тела.
func (a actorFields) resolve(ctx context.Context) domain.Actor {
	if bound, ok := auth.ActorFromContext(ctx); ok {
		return bound
	}
	return domain.Actor{Role: a.ActorRole, Name: a.ActorName}
}

type SubmitRequest struct {
	actorFields
	DocumentType domain.DocumentType `json:"documentType"`
}

// InlineAttachment: либо байты (content, base64), либо id вложения,
// выгруженного заранее через POST /workflows/{documentId}/attachments.
type InlineAttachment struct {
	ID          string `json:"id,omitempty"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Content     string `json:"content"` // base64
}

type ActionRequest struct {
	actorFields
	Kind            domain.ActionKind        `json:"kind"`
	Comments        string                   `json:"comments"`
	Flags           map[domain.FlagName]bool `json:"flags"`
	Attachments     []InlineAttachment       `json:"attachments"`
	RevisionAreas   []string                 `json:"revisionAreas"`
	ExpectedVersion int64                    `json:"expectedVersion"`
}

type ResubmitRequest struct {
	actorFields
	Comments        string `json:"comments"`
	ExpectedVersion int64  `json:"expectedVersion"`
}

// Submit вводит документ в согласование.
// POST /workflows/{documentId}/submit
func (h *WorkflowHandler) Submit(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, h.service.Submit)
}

// Draft сохраняет документ без подачи.
// POST /workflows/{documentId}/draft
func (h *WorkflowHandler) Draft(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, h.service.CreateDraft)
}

func (h *WorkflowHandler) submit(
	w http.ResponseWriter, r *http.Request,
	call func(context.Context, workflow.SubmitRequest) (*domain.WorkflowInstance, error),
) {
	var req SubmitRequest
	if !decode(w, r, &req) {
		return
	}
	if req.DocumentType == "" {
		badRequest(w, "documentType is required")
		return
	}

	inst, err := call(r.Context(), workflow.SubmitRequest{
		DocumentID:   chi.URLParam(r, "documentId"),
		DocumentType: req.DocumentType,
		Actor:        req.resolve(r.Context()),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, instanceView(inst, pendingRole(inst)))
}

// Act применяет approve / reject / revise.
// POST /workflows/{documentId}/actions
func (h *WorkflowHandler) Act(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if !decode(w, r, &req) {
		return
	}

	var linked []string
	uploads := make([]workflow.Upload, 0, len(req.Attachments))
	for i, a := range req.Attachments {
		switch {
		case a.ID != "" && a.Content != "":
			writeError(w, fmt.Errorf("%w: attachment %d has both id and content", domain.ErrInvalidAction, i))
			return
		case a.ID != "":
			linked = append(linked, a.ID)
			continue
		case a.Content == "":
			writeError(w, fmt.Errorf("%w: attachment %d has neither id nor content", domain.ErrInvalidAction, i))
			return
		}
		data, err := base64.StdEncoding.DecodeString(a.Content)
		if err != nil {
			writeError(w, fmt.Errorf("%w: attachment %d content is not valid base64", domain.ErrInvalidAction, i))
			return
		}
		uploads = append(uploads, workflow.Upload{Filename: a.Filename, ContentType: a.ContentType, Data: data})
	}

	inst, err := h.service.Act(r.Context(), workflow.ActionRequest{
		DocumentID: chi.URLParam(r, "documentId"),
		Action: domain.Action{
			Kind:            domain.ActionKind(strings.ToLower(string(req.Kind))),
			Actor:           req.resolve(r.Context()),
			Comments:        req.Comments,
			Flags:           req.Flags,
			RevisionAreas:   req.RevisionAreas,
			ExpectedVersion: req.ExpectedVersion,
		},
		Uploads:   uploads,
		LinkedIDs: linked,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, instanceView(inst, pendingRole(inst)))
}

// Resubmit возвращает документ на шаг автора после доработки.
// POST /workflows/{documentId}/resubmit
func (h *WorkflowHandler) Resubmit(w http.ResponseWriter, r *http.Request) {
	var req ResubmitRequest
	if !decode(w, r, &req) {
		return
	}
	inst, err := h.service.Resubmit(r.Context(), workflow.ResubmitRequest{
		DocumentID:      chi.URLParam(r, "documentId"),
		Actor:           req.resolve(r.Context()),
		ExpectedVersion: req.ExpectedVersion,
		Comments:        req.Comments,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, instanceView(inst, pendingRole(inst)))
}

// Get: снимок с развернутой ролью следующего согласующего.
// GET /workflows/{documentId}
func (h *WorkflowHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Get(r.Context(), chi.URLParam(r, "documentId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, instanceView(snap.Instance, snap.NextApprover))
}

// History: журнал от старых событий к новым.
// GET /workflows/{documentId}/history
func (h *WorkflowHandler) History(w http.ResponseWriter, r *http.Request) {
	events, err := h.service.History(r.Context(), chi.URLParam(r, "documentId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventViews(events))
}

type UploadRequest struct {
	actorFields
	InlineAttachment
}

// Upload выгружает вложение заранее.
// POST /workflows/{documentId}/attachments
func (h *WorkflowHandler) Upload(w http.ResponseWriter, r *http.Request) {
	var req UploadRequest
	if !decode(w, r, &req) {
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		badRequest(w, "content is not valid base64")
		return
	}

	ref, err := h.service.UploadAttachment(r.Context(), chi.URLParam(r, "documentId"), req.resolve(r.Context()), workflow.Upload{
		Filename:    req.Filename,
		ContentType: req.ContentType,
		Data:        data,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, attachmentView(ref))
}

// Download отдает байты вложения.
// GET /workflows/{documentId}/attachments/{attachmentId}
func (h *WorkflowHandler) Download(w http.ResponseWriter, r *http.Request) {
	ref, data, err := h.service.Attachment(r.Context(), chi.URLParam(r, "documentId"), chi.URLParam(r, "attachmentId"))
	if err != nil {
		writeError(w, err)
		return
	}

	contentType := ref.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if ref.Filename != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ref.Filename))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("attachment write failed", zap.String("attachment_id", ref.ID), zap.Error(err))
	}
}
