package storage

import "sync"

// Overlay buffers writes on top of a base database. Reads fall through to the
// base until a key has been written or deleted locally. Nothing reaches the
// base until Flush; Discard drops the buffered mutations. This is the
// transactional primitive the group executor uses to make a batch of
// operations all-or-nothing.
type Overlay struct {
	mu      sync.RWMutex
	base    Database
	writes  map[string][]byte
	deletes map[string]struct{}
}

// NewOverlay wraps base with an empty write buffer.
func NewOverlay(base Database) *Overlay {
	return &Overlay{
		base:    base,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

func (o *Overlay) Put(key []byte, value []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	k := string(key)
	delete(o.deletes, k)
	o.writes[k] = append([]byte(nil), value...)
	return nil
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	k := string(key)
	if _, ok := o.deletes[k]; ok {
		return nil, ErrNotFound
	}
	if value, ok := o.writes[k]; ok {
		return append([]byte(nil), value...), nil
	}
	return o.base.Get(key)
}

func (o *Overlay) Has(key []byte) (bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	k := string(key)
	if _, ok := o.deletes[k]; ok {
		return false, nil
	}
	if _, ok := o.writes[k]; ok {
		return true, nil
	}
	return o.base.Has(key)
}

func (o *Overlay) Delete(key []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	k := string(key)
	delete(o.writes, k)
	o.deletes[k] = struct{}{}
	return nil
}

// Write applies a batch into the buffer. Nothing reaches the base.
func (o *Overlay) Write(batch *Batch) error {
	if batch == nil {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, op := range batch.ops {
		k := string(op.key)
		if op.delete {
			delete(o.writes, k)
			o.deletes[k] = struct{}{}
			continue
		}
		delete(o.deletes, k)
		o.writes[k] = append([]byte(nil), op.value...)
	}
	return nil
}

// Close satisfies Database. The base is left open; overlays are short-lived.
func (o *Overlay) Close() error { return nil }

// Flush commits the buffered mutations to the base in a single batched Write
// and resets the buffer. The base applies the batch atomically, so a storage
// fault mid-commit never leaves a subset of the group's mutations behind.
// Deletes are ordered before writes so a delete-then-put of the same key
// lands as a put.
func (o *Overlay) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	batch := new(Batch)
	for k := range o.deletes {
		batch.Delete([]byte(k))
	}
	for k, value := range o.writes {
		batch.Put([]byte(k), value)
	}
	if err := o.base.Write(batch); err != nil {
		return err
	}
	o.writes = make(map[string][]byte)
	o.deletes = make(map[string]struct{})
	return nil
}

// Discard drops every buffered mutation without touching the base.
func (o *Overlay) Discard() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writes = make(map[string][]byte)
	o.deletes = make(map[string]struct{})
}
