package mocks

import (
	"context"

	"labcase/internal/model"
	"labcase/internal/service"

	"github.com/stretchr/testify/mock"
)

type MockCaseService struct {
	mock.Mock
}

func (m *MockCaseService) Open(ctx context.Context, telegramUserID, telegramChatID int64) (*model.Case, error) {
	args := m.Called(ctx, telegramUserID, telegramChatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Case), args.Error(1)
}

func (m *MockCaseService) AddMessage(ctx context.Context, caseID string, kind model.MessageKind, content string, telegramMessageID, telegramUserID int64) (*model.CaseMessage, error) {
	args := m.Called(ctx, caseID, kind, content, telegramMessageID, telegramUserID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CaseMessage), args.Error(1)
}

func (m *MockCaseService) AddFile(ctx context.Context, caseID string, in service.AddFileInput) (*model.CaseFile, error) {
	args := m.Called(ctx, caseID, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CaseFile), args.Error(1)
}

func (m *MockCaseService) Close(ctx context.Context, caseID string, cause model.CloseCause) (*service.CloseResult, error) {
	args := m.Called(ctx, caseID, cause)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.CloseResult), args.Error(1)
}

func (m *MockCaseService) ActiveCase(ctx context.Context, telegramUserID int64) (*model.Case, error) {
	args := m.Called(ctx, telegramUserID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Case), args.Error(1)
}

func (m *MockCaseService) Files(ctx context.Context, caseID string) ([]service.FileLink, error) {
	args := m.Called(ctx, caseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]service.FileLink), args.Error(1)
}
