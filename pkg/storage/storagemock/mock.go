package storagemock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/raterudder/homedash/pkg/storage"
	"github.com/raterudder/homedash/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetSettings(ctx context.Context) (types.Settings, int, error) {
	args := m.Called(ctx)
	// return empty if not specified, or checks args
	if len(args) > 0 {
		return args.Get(0).(types.Settings), args.Int(1), args.Error(2)
	}
	return types.Settings{}, 0, nil
}

func (m *MockDatabase) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	args := m.Called(ctx, settings, version)
	return args.Error(0)
}

func (m *MockDatabase) GetTopics(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		topics, _ := args.Get(0).([]string)
		return topics, args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) SetTopics(ctx context.Context, topics []string) error {
	args := m.Called(ctx, topics)
	return args.Error(0)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
