package attachments

/*
Файл linker.go реализует отложенную выгрузку вложений.

Действие согласующего не ждет хранилище: ссылка (AttachmentRef) фиксируется
в истории сразу, а байты inline-вложений после коммита попадают сюда.
Воркер пробует выгрузку сразу по получении, неудачные держит в backlog
и повторяет по таймеру; при остановке вычитывает канал и делает
финальную попытку (Drain Pattern).
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// PendingUpload: байты, которые еще не попали в хранилище.
type PendingUpload struct {
	DocumentID   string
	AttachmentID string
	StorageKey   string
	Data         []byte
	Attempts     int
}

// LinkerConfig настраивает буфер и частоту повторов.
type LinkerConfig struct {
	BufferSize    int
	RetryInterval time.Duration
	MaxAttempts   int
}

type DeferredLinker struct {
	ch     chan PendingUpload
	store  Store
	cfg    LinkerConfig
	logger *zap.Logger
	wg     sync.WaitGroup

	isClosed int32 // 0 - открыт, 1 - закрыт
	pending  int64 // сколько выгрузок еще не подтверждено

	// OnResult вызывается после каждой попытки (метрики), может быть nil.
	OnResult func(ok bool)
}

func NewDeferredLinker(store Store, cfg LinkerConfig, logger *zap.Logger) *DeferredLinker {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 2 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	return &DeferredLinker{
		ch:     make(chan PendingUpload, cfg.BufferSize),
		store:  store,
		cfg:    cfg,
		logger: logger.With(zap.String("mod", "linker")),
	}
}

func (l *DeferredLinker) Start() {
	l.wg.Add(1)
	go l.worker()
}

// Stop закрывает вход, ждет финальную попытку по всем накопленным выгрузкам.
func (l *DeferredLinker) Stop() {
	if !atomic.CompareAndSwapInt32(&l.isClosed, 0, 1) {
		return
	}
	// Даем текущим Enqueue проскочить
	time.Sleep(10 * time.Millisecond)

	l.logger.Info("stopping linker: closing channel and flushing pending uploads...")
	close(l.ch)
	l.wg.Wait()
	l.logger.Info("linker stopped gracefully")
}

// Enqueue ставит выгрузку в очередь. Возвращает false, если очередь
// закрыта или переполнена (Load Shedding), вызывающий логирует потерю.
func (l *DeferredLinker) Enqueue(u PendingUpload) bool {
	if atomic.LoadInt32(&l.isClosed) == 1 {
		l.logger.Warn("upload dropped: linker is stopping",
			zap.String("document_id", u.DocumentID),
			zap.String("attachment_id", u.AttachmentID))
		return false
	}

	atomic.AddInt64(&l.pending, 1)
	select {
	case l.ch <- u:
		return true
	default:
		atomic.AddInt64(&l.pending, -1)
		l.logger.Error("linker_buffer_overflow",
			zap.String("document_id", u.DocumentID),
			zap.String("attachment_id", u.AttachmentID))
		return false
	}
}

// Pending: число выгрузок, ожидающих подтверждения.
func (l *DeferredLinker) Pending() int64 {
	return atomic.LoadInt64(&l.pending)
}

func (l *DeferredLinker) worker() {
	defer l.wg.Done()

	var backlog []PendingUpload
	ticker := time.NewTicker(l.cfg.RetryInterval)
	defer ticker.Stop()

	// attempt: true, если выгрузку надо оставить в backlog
	attempt := func(u *PendingUpload, final bool) bool {
		if l.try(*u) {
			return false
		}
		u.Attempts++
		if final || u.Attempts >= l.cfg.MaxAttempts {
			atomic.AddInt64(&l.pending, -1)
			l.logger.Error("attachment upload abandoned",
				zap.String("document_id", u.DocumentID),
				zap.String("attachment_id", u.AttachmentID),
				zap.String("storage_key", u.StorageKey),
				zap.Int("attempts", u.Attempts))
			return false
		}
		return true
	}

	flush := func(final bool) {
		kept := backlog[:0]
		for _, u := range backlog {
			if attempt(&u, final) {
				kept = append(kept, u)
			}
		}
		backlog = kept
	}

	for {
		select {
		case u, ok := <-l.ch:
			if !ok {
				// Канал закрыт в Stop(): все, что было в очереди, уже вычитано
				flush(true)
				l.logger.Info("linker worker finished")
				return
			}
			// первая попытка сразу, повторы по таймеру
			if attempt(&u, false) {
				backlog = append(backlog, u)
			}
		case <-ticker.C:
			flush(false)
		}
	}
}

func (l *DeferredLinker) try(u PendingUpload) bool {
	// Background: основной контекст запроса давно завершен
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := l.store.Put(ctx, u.StorageKey, u.Data)
	if l.OnResult != nil {
		l.OnResult(err == nil)
	}
	if err != nil {
		l.logger.Warn("deferred upload failed",
			zap.String("attachment_id", u.AttachmentID),
			zap.Int("attempts", u.Attempts+1),
			zap.Error(err))
		return false
	}
	atomic.AddInt64(&l.pending, -1)
	l.logger.Info("deferred upload linked",
		zap.String("document_id", u.DocumentID),
		zap.String("attachment_id", u.AttachmentID))
	return true
}
