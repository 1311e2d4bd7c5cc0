package workflow

/*
Файл service.go: единственный писатель экземпляров согласования.

Каждая изменяющая операция идет по одной схеме:
мьютекс документа -> чтение -> чистый переход в engine -> проверка инвариантов ->
атомарная запись с условием по версии -> (после коммита) передача байтов
вложений в отложенную очередь и уведомление. Ответ на запрос хранилище не ждет. Мьютекс сериализует писателей внутри процесса, условие по версии
в хранилище защищает от соседних реплик.
*/

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/procurement-approvals/internal/attachments"
	"github.com/xela07ax/procurement-approvals/internal/domain"
	"github.com/xela07ax/procurement-approvals/internal/engine"
	"go.uber.org/zap"
)

// Repository описывает требования к хранилищу экземпляров.
type Repository interface {
	Get(ctx context.Context, documentID string) (*domain.WorkflowInstance, error)
	History(ctx context.Context, documentID string) ([]domain.HistoryEvent, error)
	Create(ctx context.Context, inst *domain.WorkflowInstance, ev domain.HistoryEvent) error
	Update(ctx context.Context, inst *domain.WorkflowInstance, expectedVersion int64, ev domain.HistoryEvent) error
}

// DefinitionSource: каталог маршрутов.
type DefinitionSource interface {
	DefinitionFor(t domain.DocumentType) (domain.DocumentTypeDefinition, error)
}

type RoleResolver interface {
	ResolveRole(ctx context.Context, id string) (domain.Role, error)
}

// Notifier получает уведомление после каждого успешного перехода.
type Notifier interface {
	Publish(ctx context.Context, n domain.TransitionNotice) error
}

// UploadQueue выгружает байты inline-вложений в фоне, с повторами.
type UploadQueue interface {
	Enqueue(u attachments.PendingUpload) bool
	Pending() int64
}

// Upload: вложение, пришедшее вместе с действием (байты inline).
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

type SubmitRequest struct {
	DocumentID   string
	DocumentType domain.DocumentType
	Actor        domain.Actor
}

type ActionRequest struct {
	DocumentID string
	Action     domain.Action
	Uploads    []Upload
	// LinkedIDs: id вложений, заранее выгруженных через UploadAttachment.
	LinkedIDs []string
}

type ResubmitRequest struct {
	DocumentID      string
	Actor           domain.Actor
	ExpectedVersion int64
	Comments        string
}

// Snapshot: проекция экземпляра для чтения.
type Snapshot struct {
	Instance     *domain.WorkflowInstance
	NextApprover *domain.Role
}

type Service struct {
	repo     Repository
	catalog  DefinitionSource
	roles    RoleResolver
	engine   *engine.Engine
	store    attachments.Store
	queue    UploadQueue
	notifier Notifier
	metrics  *Metrics
	logger   *zap.Logger
	locks    *docLocks
	now      func() time.Time

	inlineTimeout time.Duration
}

// DefaultInlineUploadTimeout ограничивает прямую выгрузку без очереди.
const DefaultInlineUploadTimeout = 2 * time.Second

type Deps struct {
	Repo     Repository
	Catalog  DefinitionSource
	Roles    RoleResolver
	Engine   *engine.Engine
	Store    attachments.Store
	Queue    UploadQueue
	Notifier Notifier
	Metrics  *Metrics

	// InlineUploadTimeout: бюджет единственной прямой попытки выгрузки,
	// когда очереди нет или она не приняла байты.
	InlineUploadTimeout time.Duration
}

func NewService(d Deps, logger *zap.Logger) *Service {
	if d.Engine == nil {
		d.Engine = engine.New()
	}
	if d.Metrics == nil {
		d.Metrics = NewMetrics(nil)
	}
	if d.Store == nil {
		d.Store = attachments.NewMemoryStore()
	}
	if d.InlineUploadTimeout <= 0 {
		d.InlineUploadTimeout = DefaultInlineUploadTimeout
	}
	return &Service{
		repo:     d.Repo,
		catalog:  d.Catalog,
		roles:    d.Roles,
		engine:   d.Engine,
		store:    d.Store,
		queue:    d.Queue,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		logger:   logger.Named("workflow-service"),
		locks:    newDocLocks(),
		now:      func() time.Time { return time.Now().UTC() },

		inlineTimeout: d.InlineUploadTimeout,
	}
}

// CreateDraft сохраняет документ в статусе draft.
func (s *Service) CreateDraft(ctx context.Context, req SubmitRequest) (inst *domain.WorkflowInstance, err error) {
	defer s.observe("draft", time.Now(), &err)

	def, err := s.catalog.DefinitionFor(req.DocumentType)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(req.DocumentID)
	defer unlock()

	if _, err := s.repo.Get(ctx, req.DocumentID); err == nil {
		return nil, fmt.Errorf("%w: document %s already exists", domain.ErrAlreadySubmitted, req.DocumentID)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	inst, ev, err := s.engine.CreateDraft(req.DocumentID, def, req.Actor)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, inst, *ev); err != nil {
		return nil, err
	}
	s.committed(ctx, inst, ev)
	return inst, nil
}

// Submit вводит документ в согласование на шаге 0. Маршрут берется из каталога
// в момент подачи и дальше живет в экземпляре.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (inst *domain.WorkflowInstance, err error) {
	defer s.observe("submit", time.Now(), &err)

	def, err := s.catalog.DefinitionFor(req.DocumentType)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(req.DocumentID)
	defer unlock()

	existing, err := s.repo.Get(ctx, req.DocumentID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	inst, ev, err := s.engine.Submit(existing, req.DocumentID, def, req.Actor)
	if err != nil {
		return nil, err
	}
	if err := engine.CheckInvariants(inst); err != nil {
		return nil, fmt.Errorf("submit produced inconsistent state: %w", err)
	}

	if existing == nil {
		err = s.repo.Create(ctx, inst, *ev)
	} else {
		err = s.repo.Update(ctx, inst, existing.Version, *ev)
	}
	if err != nil {
		return nil, err
	}

	s.committed(ctx, inst, ev)
	return inst, nil
}

// Act применяет approve / reject / revise к текущему шагу.
func (s *Service) Act(ctx context.Context, req ActionRequest) (inst *domain.WorkflowInstance, err error) {
	defer s.observe("act:"+string(req.Action.Kind), time.Now(), &err)

	// 1. Заранее выгруженные вложения: ссылка берется из хранилища как есть
	action := req.Action
	action.Attachments = append([]domain.AttachmentRef(nil), action.Attachments...)
	for _, id := range req.LinkedIDs {
		ref, err := s.linkedRef(ctx, req.DocumentID, id)
		if err != nil {
			return nil, err
		}
		action.Attachments = append(action.Attachments, ref)
	}

	// 2. Ссылки на inline-вложения считаются до перехода: они попадают в историю
	// вместе с действием, байты догружаются после коммита.
	pending := make([]attachments.PendingUpload, 0, len(req.Uploads))
	for _, u := range req.Uploads {
		ref := s.newRef(req.DocumentID, action.Actor, u)
		action.Attachments = append(action.Attachments, ref)
		pending = append(pending, attachments.PendingUpload{
			DocumentID:   req.DocumentID,
			AttachmentID: ref.ID,
			StorageKey:   ref.StorageKey,
			Data:         u.Data,
		})
	}

	inst, ev, err := s.transition(ctx, req.DocumentID, func(cur *domain.WorkflowInstance) (*domain.WorkflowInstance, *domain.HistoryEvent, error) {
		return s.engine.Apply(cur, action)
	})
	if err != nil {
		return nil, err
	}

	s.upload(ctx, pending)
	s.committed(ctx, inst, ev)
	return inst, nil
}

// Resubmit: ответ владельца документа на запрос доработки.
func (s *Service) Resubmit(ctx context.Context, req ResubmitRequest) (inst *domain.WorkflowInstance, err error) {
	defer s.observe("resubmit", time.Now(), &err)

	inst, ev, err := s.transition(ctx, req.DocumentID, func(cur *domain.WorkflowInstance) (*domain.WorkflowInstance, *domain.HistoryEvent, error) {
		return s.engine.Resubmit(cur, req.Actor, req.ExpectedVersion, req.Comments)
	})
	if err != nil {
		return nil, err
	}
	s.committed(ctx, inst, ev)
	return inst, nil
}

// transition: общий путь изменяющей операции над существующим экземпляром.
func (s *Service) transition(
	ctx context.Context,
	documentID string,
	apply func(cur *domain.WorkflowInstance) (*domain.WorkflowInstance, *domain.HistoryEvent, error),
) (*domain.WorkflowInstance, *domain.HistoryEvent, error) {
	unlock := s.locks.lock(documentID)
	defer unlock()

	cur, err := s.repo.Get(ctx, documentID)
	if err != nil {
		return nil, nil, err
	}

	next, ev, err := apply(cur)
	if err != nil {
		return nil, nil, err
	}
	if err := engine.CheckInvariants(next); err != nil {
		s.logger.Error("transition produced inconsistent state",
			zap.String("document_id", documentID), zap.Error(err))
		return nil, nil, fmt.Errorf("transition rejected: %w", err)
	}

	if err := s.repo.Update(ctx, next, cur.Version, *ev); err != nil {
		return nil, nil, err
	}
	return next, ev, nil
}

// Get возвращает снимок экземпляра и справку о роли следующего согласующего.
func (s *Service) Get(ctx context.Context, documentID string) (*Snapshot, error) {
	inst, err := s.repo.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Instance: inst}

	if roleID := inst.NextActorRole(); roleID != "" && s.roles != nil {
		role, err := s.roles.ResolveRole(ctx, roleID)
		if err != nil {
			// снимок важнее справки о роли: отдаем id без title/tier
			s.logger.Warn("next approver role not resolved", zap.String("role", roleID), zap.Error(err))
			role = domain.Role{ID: roleID}
		}
		snap.NextApprover = &role
	}
	return snap, nil
}

// History: журнал событий от старых к новым.
func (s *Service) History(ctx context.Context, documentID string) ([]domain.HistoryEvent, error) {
	return s.repo.History(ctx, documentID)
}

// ResolveRole отдает справку о роли (GET /roles/{id}).
func (s *Service) ResolveRole(ctx context.Context, id string) (domain.Role, error) {
	if s.roles == nil {
		return domain.Role{}, fmt.Errorf("%w: %q", domain.ErrUnknownRole, id)
	}
	return s.roles.ResolveRole(ctx, id)
}

// UploadAttachment выгружает вложение заранее, до действия. Id возвращенной
// ссылки клиент передает в attachments действия. Здесь отказ хранилища виден клиенту.
func (s *Service) UploadAttachment(ctx context.Context, documentID string, actor domain.Actor, u Upload) (ref domain.AttachmentRef, err error) {
	defer s.observe("upload", time.Now(), &err)

	if _, err := s.repo.Get(ctx, documentID); err != nil {
		return domain.AttachmentRef{}, err
	}
	ref = s.newRef(documentID, actor, u)
	if err := s.store.Put(ctx, ref.StorageKey, u.Data); err != nil {
		s.metrics.AttachmentUploads.WithLabelValues("direct", result(false)).Inc()
		return domain.AttachmentRef{}, err
	}
	// метаданные пишутся после байтов: ссылка по id видна только на полное вложение
	if err := attachments.PutRef(ctx, s.store, ref); err != nil {
		s.metrics.AttachmentUploads.WithLabelValues("direct", result(false)).Inc()
		return domain.AttachmentRef{}, err
	}
	s.metrics.AttachmentUploads.WithLabelValues("direct", result(true)).Inc()
	return ref, nil
}

// Attachment возвращает метаданные (если ссылка уже в истории) и байты вложения.
func (s *Service) Attachment(ctx context.Context, documentID, attachmentID string) (domain.AttachmentRef, []byte, error) {
	history, err := s.repo.History(ctx, documentID)
	if err != nil {
		return domain.AttachmentRef{}, nil, err
	}

	ref, found := domain.AttachmentRef{ID: attachmentID, StorageKey: storageKey(documentID, attachmentID)}, false
	for _, ev := range history {
		for _, a := range ev.Attachments {
			if a.ID == attachmentID {
				ref, found = a, true
			}
		}
	}
	if !found {
		// выгружено заранее, но еще не приложено к действию
		if meta, err := attachments.GetRef(ctx, s.store, ref.StorageKey); err == nil {
			ref = meta
		}
	}

	data, err := s.store.Get(ctx, ref.StorageKey)
	if err != nil {
		return domain.AttachmentRef{}, nil, err
	}
	return ref, data, nil
}

// linkedRef находит заранее выгруженное вложение документа по id.
func (s *Service) linkedRef(ctx context.Context, documentID, attachmentID string) (domain.AttachmentRef, error) {
	if attachmentID == "" || strings.Contains(attachmentID, "/") {
		return domain.AttachmentRef{}, fmt.Errorf("%w: invalid attachment id %q", domain.ErrInvalidAction, attachmentID)
	}
	ref, err := attachments.GetRef(ctx, s.store, storageKey(documentID, attachmentID))
	if errors.Is(err, domain.ErrAttachmentNotFound) {
		return domain.AttachmentRef{}, fmt.Errorf("%w: attachment %s was not uploaded for document %s",
			domain.ErrInvalidAction, attachmentID, documentID)
	}
	if err != nil {
		return domain.AttachmentRef{}, err
	}
	return ref, nil
}

func (s *Service) newRef(documentID string, actor domain.Actor, u Upload) domain.AttachmentRef {
	id := uuid.NewString()
	contentType := u.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return domain.AttachmentRef{
		ID:          id,
		Filename:    u.Filename,
		ContentType: contentType,
		SizeBytes:   int64(len(u.Data)),
		UploadedBy:  actor.Name,
		UploadedAt:  s.now(),
		StorageKey:  storageKey(documentID, id),
	}
}

func storageKey(documentID, attachmentID string) string {
	return documentID + "/" + attachmentID
}

// upload передает байты после коммита в отложенную очередь. Без очереди
// (или если она их не приняла) делается одна прямая попытка в пределах
// inlineTimeout. Отказ хранилища переход не откатывает.
func (s *Service) upload(ctx context.Context, pending []attachments.PendingUpload) {
	for _, u := range pending {
		if s.queue != nil && s.queue.Enqueue(u) {
			s.metrics.AttachmentUploads.WithLabelValues("queued", result(true)).Inc()
			s.metrics.DeferredPending.Set(float64(s.queue.Pending()))
			continue
		}

		err := s.putOnce(ctx, u)
		s.metrics.AttachmentUploads.WithLabelValues("inline", result(err == nil)).Inc()
		if err != nil {
			s.logger.Error("attachment upload lost",
				zap.String("document_id", u.DocumentID),
				zap.String("attachment_id", u.AttachmentID),
				zap.Error(err))
		}
	}
}

func (s *Service) putOnce(ctx context.Context, u attachments.PendingUpload) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.inlineTimeout)
	defer cancel()
	return s.store.Put(ctx, u.StorageKey, u.Data)
}

// committed: побочные эффекты успешного перехода: метрика, лог, уведомление.
func (s *Service) committed(ctx context.Context, inst *domain.WorkflowInstance, ev *domain.HistoryEvent) {
	s.metrics.TransitionsTotal.WithLabelValues(string(inst.DocumentType), string(ev.Type)).Inc()
	s.logger.Info("workflow transition committed",
		zap.String("document_id", inst.DocumentID),
		zap.String("event", string(ev.Type)),
		zap.String("actor_role", ev.ActorRole),
		zap.String("status", string(inst.Status)),
		zap.Int64("version", inst.Version))

	if s.notifier == nil {
		return
	}
	notice := domain.TransitionNotice{
		DocumentID:       inst.DocumentID,
		DocumentType:     inst.DocumentType,
		NewStatus:        inst.Status,
		NextApproverRole: inst.NextActorRole(),
		Version:          inst.Version,
		OccurredAt:       ev.OccurredAt,
	}
	// Fire-and-forget: переход уже зафиксирован
	if err := s.notifier.Publish(ctx, notice); err != nil {
		s.metrics.NotifyFailures.Inc()
		s.logger.Warn("transition notice delivery failed",
			zap.String("document_id", inst.DocumentID),
			zap.Error(err))
	}
}

func (s *Service) observe(op string, started time.Time, errp *error) {
	status := "ok"
	if err := *errp; err != nil {
		kind := domain.ErrorKind(err)
		status = kind
		s.metrics.ErrorTotal.WithLabelValues(kind).Inc()
		if kind == "Internal" {
			s.logger.Error("operation failed", zap.String("op", op), zap.Error(err))
		} else {
			s.logger.Debug("operation rejected", zap.String("op", op), zap.String("kind", kind), zap.Error(err))
		}
	}
	s.metrics.OperationDuration.WithLabelValues(op, status).Observe(time.Since(started).Seconds())
}
