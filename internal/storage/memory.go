package storage

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// Memory хранит объекты в памяти процесса; используется в дев-режиме и тестах.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) Upload(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.objects[objectName] = data
	m.mu.Unlock()
	return objectName, nil
}

func (m *Memory) GetURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	m.mu.RLock()
	_, ok := m.objects[objectName]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("object %s not found", objectName)
	}
	return "memory://" + objectName, nil
}

// Object возвращает содержимое загруженного объекта.
func (m *Memory) Object(objectName string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[objectName]
	return data, ok
}

var _ Storage = (*Memory)(nil)
