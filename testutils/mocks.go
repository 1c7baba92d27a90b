package testutils

import (
	"time"

	"github.com/stretchr/testify/mock"
)

type MockRevocationService struct {
	mock.Mock
}

func (m *MockRevocationService) IsTokenRevoked(jti string) (bool, error) {
	args := m.Called(jti)
	return args.Bool(0), args.Error(1)
}

func (m *MockRevocationService) RevokeToken(jti string, expiresAt time.Time) error {
	args := m.Called(jti, expiresAt)
	return args.Error(0)
}

type MockMailSender struct {
	mock.Mock
}

func (m *MockMailSender) SendPlain(to []string, subject, body string) error {
	args := m.Called(to, subject, body)
	return args.Error(0)
}
