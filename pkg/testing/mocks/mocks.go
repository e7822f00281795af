package mocks

import (
	"context"
	"fmt"
	"sync"

	shared "github.com/runbeat/server/pkg"
)

// --- Mock Blob Storage ---

// MockBlobStore is an in-memory shared.BlobStore. Func fields override
// individual operations when set.
type MockBlobStore struct {
	WriteFunc  func(ctx context.Context, bucket, object string, data []byte) error
	ReadFunc   func(ctx context.Context, bucket, object string) ([]byte, error)
	DeleteFunc func(ctx context.Context, bucket, object string) error

	mu      sync.Mutex
	objects map[string][]byte
}

func (m *MockBlobStore) key(bucket, object string) string {
	return bucket + "/" + object
}

func (m *MockBlobStore) Write(ctx context.Context, bucket, object string, data []byte) error {
	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, bucket, object, data)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[m.key(bucket, object)] = data
	return nil
}

func (m *MockBlobStore) Read(ctx context.Context, bucket, object string) ([]byte, error) {
	if m.ReadFunc != nil {
		return m.ReadFunc(ctx, bucket, object)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[m.key(bucket, object)]
	if !ok {
		return nil, fmt.Errorf("object %s/%s not found", bucket, object)
	}
	return data, nil
}

func (m *MockBlobStore) Delete(ctx context.Context, bucket, object string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, bucket, object)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, m.key(bucket, object))
	return nil
}

// --- Mock Task Queue ---

// MockTaskQueue records enqueued tasks for assertion.
type MockTaskQueue struct {
	EnqueueFunc func(ctx context.Context, task shared.Task) error

	mu    sync.Mutex
	tasks []shared.Task
}

func (m *MockTaskQueue) Enqueue(ctx context.Context, task shared.Task) error {
	if m.EnqueueFunc != nil {
		return m.EnqueueFunc(ctx, task)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, task)
	return nil
}

// Tasks returns a copy of everything enqueued so far.
func (m *MockTaskQueue) Tasks() []shared.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]shared.Task, len(m.tasks))
	copy(out, m.tasks)
	return out
}

// TaskNames returns the enqueued task names in order.
func (m *MockTaskQueue) TaskNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.tasks))
	for i, t := range m.tasks {
		names[i] = t.Name
	}
	return names
}
