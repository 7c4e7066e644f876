package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryObjectStore is an in-process ObjectStore for tests and dev mode.
type MemoryObjectStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

// NewMemoryObjectStore builds an empty in-memory object store.
func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{objects: make(map[string]memoryObject)}
}

// Put stores the object bytes.
func (m *MemoryObjectStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if size >= 0 && int64(len(data)) != size {
		return errors.New("object size mismatch")
	}
	m.mu.Lock()
	m.objects[key] = memoryObject{data: data, contentType: contentType}
	m.mu.Unlock()
	return nil
}

// PresignGet returns a fake URL that encodes the key and expiry.
func (m *MemoryObjectStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = DefaultPresignExpiry
	}
	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("presign get: no such key %q", key)
	}
	return fmt.Sprintf("https://objects.invalid/%s?expires=%d", url.PathEscape(key), int64(expiry.Seconds())), nil
}

// Stat reports object metadata, with found=false for missing keys.
func (m *MemoryObjectStore) Stat(ctx context.Context, key string) (ObjectInfo, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return ObjectInfo{}, false, nil
	}
	return ObjectInfo{
		Key:         key,
		SizeBytes:   int64(len(obj.data)),
		ContentType: obj.contentType,
	}, true, nil
}

// Delete removes an object.
func (m *MemoryObjectStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

// Ping always succeeds for the in-memory store.
func (m *MemoryObjectStore) Ping(ctx context.Context) error { return nil }

// Bytes returns a stored object's contents, for tests.
func (m *MemoryObjectStore) Bytes(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, true
}
