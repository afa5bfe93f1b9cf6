package push

import (
	"context"
	"errors"
	"sync"
)

// MockSender 记录推送。FailTokens 中的 token 单独失败，Unregistered 中的 token 已失效，
// Down 模拟推送服务整体不可用
type MockSender struct {
	mu           sync.Mutex
	Sent         map[string][]Message
	FailTokens   map[string]bool
	Unregistered map[string]bool
	Down         bool
	Calls        int
}

func NewMockSender() *MockSender {
	return &MockSender{
		Sent:         map[string][]Message{},
		FailTokens:   map[string]bool{},
		Unregistered: map[string]bool{},
	}
}

var errMockPush = errors.New("mock push failure")

func (m *MockSender) SendToDevices(_ context.Context, tokens []string, msg Message) ([]Failure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Down {
		return nil, ErrProviderUnavailable
	}

	var failures []Failure
	for _, token := range tokens {
		switch {
		case m.Unregistered[token]:
			failures = append(failures, Failure{Token: token, Unregistered: true, Err: errMockPush})
		case m.FailTokens[token]:
			failures = append(failures, Failure{Token: token, Err: errMockPush})
		default:
			m.Sent[token] = append(m.Sent[token], msg)
		}
	}
	return failures, nil
}

// Count 某个 token 收到的推送数
func (m *MockSender) Count(token string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent[token])
}

// SetDown 切换整体故障
func (m *MockSender) SetDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Down = down
}
