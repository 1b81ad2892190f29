package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/homedash/pkg/storage"
	"github.com/raterudder/homedash/pkg/storage/storagemock"
	"github.com/raterudder/homedash/pkg/types"
)

func TestLoadSettings(t *testing.T) {
	ctx := context.Background()

	t.Run("migrates and saves", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetSettings", mock.Anything).Return(types.Settings{}, 0, nil)
		db.On("SetSettings", mock.Anything, mock.MatchedBy(func(s types.Settings) bool {
			return s.GridAlertWatts == 6000 && s.LowBatterySOC == 20
		}), types.CurrentSettingsVersion).Return(nil)

		s, err := storage.LoadSettings(ctx, db)
		require.NoError(t, err)
		assert.Equal(t, 6000.0, s.GridAlertWatts)
		db.AssertExpectations(t)
	})

	t.Run("current version is not saved", func(t *testing.T) {
		current := types.Settings{GridAlertWatts: 1000, LowBatterySOC: 10, Location: "UTC"}
		db := &storagemock.MockDatabase{}
		db.On("GetSettings", mock.Anything).Return(current, types.CurrentSettingsVersion, nil)

		s, err := storage.LoadSettings(ctx, db)
		require.NoError(t, err)
		assert.Equal(t, current, s)
		db.AssertNotCalled(t, "SetSettings", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("get error", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetSettings", mock.Anything).Return(types.Settings{}, 0, errors.New("unavailable"))

		_, err := storage.LoadSettings(ctx, db)
		assert.ErrorContains(t, err, "unavailable")
	})

	t.Run("memory round trip", func(t *testing.T) {
		db := storage.NewMemory()
		s, err := storage.LoadSettings(ctx, db)
		require.NoError(t, err)

		stored, version, err := db.GetSettings(ctx)
		require.NoError(t, err)
		assert.Equal(t, types.CurrentSettingsVersion, version)
		assert.Equal(t, s, stored)
	})
}
