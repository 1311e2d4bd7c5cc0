package workflow

import "sync"

// docLocks: мьютекс на документ. Запись освобождается, когда ее никто не держит,
// поэтому карта не растет вместе с числом документов.
type docLocks struct {
	mu    sync.Mutex
	locks map[string]*docLock
}

type docLock struct {
	mu   sync.Mutex
	refs int
}

func newDocLocks() *docLocks {
	return &docLocks{locks: make(map[string]*docLock)}
}

// lock захватывает мьютекс документа и возвращает функцию освобождения.
func (d *docLocks) lock(documentID string) func() {
	d.mu.Lock()
	l, ok := d.locks[documentID]
	if !ok {
		l = &docLock{}
		d.locks[documentID] = l
	}
	l.refs++
	d.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		d.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(d.locks, documentID)
		}
		d.mu.Unlock()
	}
}
