package health

import (
	"context"

	"persistenceai/pkg/logger"

	"github.com/stretchr/testify/mock"
)

type MockRegistryChecker struct {
	mock.Mock
}

func (m *MockRegistryChecker) Degraded() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockRegistryChecker) Verify(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockPingChecker struct {
	mock.Mock
}

func (m *MockPingChecker) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockLogger struct{}

func (m *MockLogger) Info(ctx context.Context, msg string, fields ...logger.Field) {}

func (m *MockLogger) Error(ctx context.Context, msg string, fields ...logger.Field) {}

func (m *MockLogger) Debug(ctx context.Context, msg string, fields ...logger.Field) {}

func (m *MockLogger) Warn(ctx context.Context, msg string, fields ...logger.Field) {}

func (m *MockLogger) With(fields ...logger.Field) logger.Logger {
	return m
}
