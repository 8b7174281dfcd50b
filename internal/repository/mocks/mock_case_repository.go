package mocks

import (
	"context"
	"time"

	"labcase/internal/model"

	"github.com/stretchr/testify/mock"
)

type MockCaseRepository struct {
	mock.Mock
}

func (m *MockCaseRepository) CreateCase(ctx context.Context, c *model.Case) (*model.Case, error) {
	args := m.Called(ctx, c)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Case), args.Error(1)
}

func (m *MockCaseRepository) FindCaseByID(ctx context.Context, id string) (*model.Case, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Case), args.Error(1)
}

func (m *MockCaseRepository) FindActiveCaseByUserID(ctx context.Context, telegramUserID int64) (*model.Case, error) {
	args := m.Called(ctx, telegramUserID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Case), args.Error(1)
}

func (m *MockCaseRepository) CloseCase(ctx context.Context, id string, cause model.CloseCause) (*model.Case, error) {
	args := m.Called(ctx, id, cause)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Case), args.Error(1)
}

func (m *MockCaseRepository) FindOpenCasesOlderThan(ctx context.Context, age time.Duration) ([]model.Case, error) {
	args := m.Called(ctx, age)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Case), args.Error(1)
}

func (m *MockCaseRepository) CreateMessage(ctx context.Context, msg *model.CaseMessage) (*model.CaseMessage, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CaseMessage), args.Error(1)
}

func (m *MockCaseRepository) CreateFile(ctx context.Context, f *model.CaseFile) (*model.CaseFile, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	if fn, ok := args.Get(0).(func(context.Context, *model.CaseFile) *model.CaseFile); ok {
		return fn(ctx, f), args.Error(1)
	}
	return args.Get(0).(*model.CaseFile), args.Error(1)
}

func (m *MockCaseRepository) CountMessages(ctx context.Context, caseID string) (int, error) {
	args := m.Called(ctx, caseID)
	return args.Int(0), args.Error(1)
}

func (m *MockCaseRepository) CountFiles(ctx context.Context, caseID string) (int, error) {
	args := m.Called(ctx, caseID)
	return args.Int(0), args.Error(1)
}

func (m *MockCaseRepository) ListFilesByCase(ctx context.Context, caseID string) ([]model.CaseFile, error) {
	args := m.Called(ctx, caseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.CaseFile), args.Error(1)
}
