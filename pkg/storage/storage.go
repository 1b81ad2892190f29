package storage

import (
	"context"
	"fmt"

	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/homedash/pkg/types"
)

// Database defines the interface for persisting settings and bus topic
// subscriptions.
type Database interface {
	// Settings
	GetSettings(ctx context.Context) (types.Settings, int, error)
	SetSettings(ctx context.Context, settings types.Settings, version int) error

	// Topics returns nil when nothing has been stored yet.
	GetTopics(ctx context.Context) ([]string, error)
	SetTopics(ctx context.Context, topics []string) error

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "memory", "Storage provider to use (available: memory, firestore)")

	var p struct{ Database }

	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "memory":
			p.Database = NewMemory()
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}

// LoadSettings returns the stored settings migrated to the current version.
// Migrated settings are written back.
func LoadSettings(ctx context.Context, db Database) (types.Settings, error) {
	settings, version, err := db.GetSettings(ctx)
	if err != nil {
		return types.Settings{}, fmt.Errorf("failed to get settings: %w", err)
	}
	settings, changed, err := types.MigrateSettings(settings, version)
	if err != nil {
		return types.Settings{}, fmt.Errorf("failed to migrate settings: %w", err)
	}
	if changed || version != types.CurrentSettingsVersion {
		if err := db.SetSettings(ctx, settings, types.CurrentSettingsVersion); err != nil {
			return types.Settings{}, fmt.Errorf("failed to save migrated settings: %w", err)
		}
	}
	return settings, nil
}
