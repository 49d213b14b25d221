package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go-badge-printer/printing"

	"github.com/redis/go-redis/v9"
)

// Dialogs are dropped after this long without being closed.
const DialogTimeout time.Duration = 8 * time.Hour

// Redis transactions are retried this often when another writer touched the
// same dialog in between.
const maxUpdateAttempts = 5

// Expired in-memory dialogs are swept at most this often, on Create.
const sweepInterval = 10 * time.Minute

type storedDialog struct {
	data      []byte
	expiresAt time.Time
}

// Dialogs are kept serialized so callers never share state with the store.
type InMemoryDialogStorage struct {
	dialogs   map[string]storedDialog
	mutex     sync.Mutex
	now       func() time.Time
	lastSweep time.Time
}

func NewInMemoryDialogStorage() *InMemoryDialogStorage {
	return &InMemoryDialogStorage{
		dialogs: make(map[string]storedDialog),
		now:     time.Now,
	}
}

type RedisDialogStorage struct {
	client    *redis.Client
	namespace string
}

func NewRedisDialogStorage(client *redis.Client, namespace string) *RedisDialogStorage {
	return &RedisDialogStorage{client: client, namespace: namespace}
}

// ------------------------------------------------------------------------------

func createKey(namespace, sessionId string) string {
	return fmt.Sprintf("%s:dialog:%s", namespace, sessionId)
}

func (s *RedisDialogStorage) Create(ctx context.Context, d *printing.Dialog) error {
	b, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode dialog: %w", err)
	}
	return s.client.Set(ctx, createKey(s.namespace, d.SessionID), b, DialogTimeout).Err()
}

func (s *RedisDialogStorage) Get(ctx context.Context, sessionId string) (*printing.Dialog, error) {
	b, err := s.client.Get(ctx, createKey(s.namespace, sessionId)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, printing.ErrDialogNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeDialog(b)
}

// Update runs fn inside a WATCH transaction, so two concurrent print clicks
// cannot both move the dialog out of the idle state.
func (s *RedisDialogStorage) Update(ctx context.Context, sessionId string, fn func(*printing.Dialog) error) (*printing.Dialog, error) {
	key := createKey(s.namespace, sessionId)
	var updated *printing.Dialog

	txf := func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return printing.ErrDialogNotFound
		}
		if err != nil {
			return err
		}
		d, err := decodeDialog(b)
		if err != nil {
			return err
		}
		if err := fn(d); err != nil {
			return err
		}
		out, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("failed to encode dialog: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, redis.KeepTTL)
			return nil
		})
		if err == nil {
			updated = d
		}
		return err
	}

	for i := 0; i < maxUpdateAttempts; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("failed to update dialog %s: too much contention", sessionId)
}

func (s *RedisDialogStorage) Delete(ctx context.Context, sessionId string) error {
	n, err := s.client.Del(ctx, createKey(s.namespace, sessionId)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return printing.ErrDialogNotFound
	}
	return nil
}

// ------------------------------------------------------------------------------

func (s *InMemoryDialogStorage) Create(_ context.Context, d *printing.Dialog) error {
	b, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode dialog: %w", err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) >= sweepInterval {
		s.sweep(now)
	}
	s.dialogs[d.SessionID] = storedDialog{data: b, expiresAt: now.Add(DialogTimeout)}
	return nil
}

// sweep drops every expired dialog. Callers hold the mutex.
func (s *InMemoryDialogStorage) sweep(now time.Time) {
	for id, stored := range s.dialogs {
		if !now.Before(stored.expiresAt) {
			delete(s.dialogs, id)
		}
	}
	s.lastSweep = now
}

func (s *InMemoryDialogStorage) Get(_ context.Context, sessionId string) (*printing.Dialog, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stored, ok := s.lookup(sessionId)
	if !ok {
		return nil, printing.ErrDialogNotFound
	}
	return decodeDialog(stored.data)
}

func (s *InMemoryDialogStorage) Update(_ context.Context, sessionId string, fn func(*printing.Dialog) error) (*printing.Dialog, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stored, ok := s.lookup(sessionId)
	if !ok {
		return nil, printing.ErrDialogNotFound
	}
	d, err := decodeDialog(stored.data)
	if err != nil {
		return nil, err
	}
	if err := fn(d); err != nil {
		return nil, err
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode dialog: %w", err)
	}
	s.dialogs[sessionId] = storedDialog{data: b, expiresAt: stored.expiresAt}
	return d, nil
}

func (s *InMemoryDialogStorage) Delete(_ context.Context, sessionId string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.lookup(sessionId); !ok {
		return printing.ErrDialogNotFound
	}
	delete(s.dialogs, sessionId)
	return nil
}

// lookup drops the entry when it expired. Callers hold the mutex.
func (s *InMemoryDialogStorage) lookup(sessionId string) (storedDialog, bool) {
	stored, ok := s.dialogs[sessionId]
	if !ok {
		return storedDialog{}, false
	}
	if !s.now().Before(stored.expiresAt) {
		delete(s.dialogs, sessionId)
		return storedDialog{}, false
	}
	return stored, true
}

func decodeDialog(b []byte) (*printing.Dialog, error) {
	var d printing.Dialog
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("failed to decode dialog: %w", err)
	}
	return &d, nil
}
