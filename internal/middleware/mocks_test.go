package middleware

import (
	"context"
	"sync"

	"github.com/mercybot/mercybot/internal/model"
)

// tokenVerifierMock is a moq-style mock of tokenVerifier.
type tokenVerifierMock struct {
	VerifyFunc func(token string) (string, error)

	mu    sync.RWMutex
	calls []string
}

func (m *tokenVerifierMock) Verify(token string) (string, error) {
	if m.VerifyFunc == nil {
		panic("tokenVerifierMock.VerifyFunc: method is nil but tokenVerifier.Verify was just called")
	}
	m.mu.Lock()
	m.calls = append(m.calls, token)
	m.mu.Unlock()
	return m.VerifyFunc(token)
}

func (m *tokenVerifierMock) VerifyCalls() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

// userGetterMock is a moq-style mock of userGetter.
type userGetterMock struct {
	GetByIDFunc func(ctx context.Context, id string) (*model.User, error)

	mu    sync.RWMutex
	calls []string
}

func (m *userGetterMock) GetByID(ctx context.Context, id string) (*model.User, error) {
	if m.GetByIDFunc == nil {
		panic("userGetterMock.GetByIDFunc: method is nil but userGetter.GetByID was just called")
	}
	m.mu.Lock()
	m.calls = append(m.calls, id)
	m.mu.Unlock()
	return m.GetByIDFunc(ctx, id)
}

func (m *userGetterMock) GetByIDCalls() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}
