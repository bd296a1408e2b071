package storage

import (
	"context"
	"sync"

	"github.com/aptpod/wsconn-go/message"
)

// Memoryは、プロセス内のメモリへ保存するStoreです。
//
// 保存時に直列化するため、呼び出し元が渡したスライスを後から変更しても影響を受けません。
type Memory struct {
	mu     sync.RWMutex
	values map[string][]byte
}

var _ Store = (*Memory)(nil)

// NewMemoryは、空のMemoryを返却します。
func NewMemory() *Memory {
	return &Memory{values: map[string][]byte{}}
}

func (m *Memory) Save(_ context.Context, key string, envs []message.Envelope) error {
	bs, err := Marshal(envs)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = bs
	return nil
}

func (m *Memory) Load(_ context.Context, key string) ([]message.Envelope, error) {
	m.mu.RLock()
	bs, ok := m.values[key]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return Unmarshal(bs)
}

func (m *Memory) Clear(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *Memory) Close() error {
	return nil
}

// Lenは、保存されているキーの数を返却します。
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}
