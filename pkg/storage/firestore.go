package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/raterudder/homedash/pkg/log"
	"github.com/raterudder/homedash/pkg/types"
)

// FirestoreProvider implements the Database interface using Google Cloud
// Firestore. Everything lives under the "homes/{homeID}" document.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
	homeID    string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")
	homeID := lflag.String("firestore-home-id", "home", "Document ID under which this home's data is stored")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database
		f.homeID = *homeID

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// the project ID may be empty since it can be inferred
	if f.homeID == "" {
		return errors.New("firestore-home-id is required")
	}
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) getCollection(name string) *firestore.CollectionRef {
	return f.client.Collection("homes").Doc(f.homeID).Collection(name)
}

// GetSettings retrieves the dynamic configuration from the "config/settings" document.
func (f *FirestoreProvider) GetSettings(ctx context.Context) (types.Settings, int, error) {
	doc, err := f.getCollection("config").Doc("settings").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			// Return default settings if not found
			return types.Settings{}, 0, nil
		}
		return types.Settings{}, 0, fmt.Errorf("failed to fetch settings doc: %w", err)
	}

	// Read version if available (default 0)
	var version int
	if v, err := doc.DataAt("version"); err == nil {
		if vInt, ok := v.(int64); ok {
			version = int(vInt)
		}
	}

	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "settings doc missing json", slog.String("homeID", f.homeID))
		return types.Settings{}, 0, fmt.Errorf("settings document missing 'json' field: %w", err)
	}

	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "settings doc json not string", slog.String("homeID", f.homeID))
		return types.Settings{}, 0, fmt.Errorf("settings 'json' field is not a string")
	}

	var s types.Settings
	if err := json.Unmarshal([]byte(jsonStr), &s); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal settings json", slog.String("homeID", f.homeID), slog.Any("err", err))
		return types.Settings{}, 0, fmt.Errorf("failed to unmarshal settings json: %w", err)
	}
	return s, version, nil
}

// SetSettings saves the dynamic configuration to the "config/settings" document.
// It stores the settings as a JSON string for portability.
func (f *FirestoreProvider) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	jsonBytes, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	_, err = f.getCollection("config").Doc("settings").Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func topicDocID(position int) string {
	return fmt.Sprintf("%04d", position)
}

type topicDoc struct {
	Topic    string `firestore:"topic"`
	Position int    `firestore:"position"`
}

// GetTopics retrieves the subscribed topics from the "topics" collection in
// subscription order.
func (f *FirestoreProvider) GetTopics(ctx context.Context) ([]string, error) {
	iter := f.getCollection("topics").
		OrderBy("position", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var topics []string
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate topics: %w", err)
		}
		var t topicDoc
		if err := doc.DataTo(&t); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to decode topic doc", slog.String("id", doc.Ref.ID), slog.Any("err", err))
			continue
		}
		topics = append(topics, t.Topic)
	}
	return topics, nil
}

// SetTopics replaces the "topics" collection in a single transaction. Topic
// filters contain slashes so documents are keyed by position.
func (f *FirestoreProvider) SetTopics(ctx context.Context, topics []string) error {
	coll := f.getCollection("topics")
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// transactions require every read before the first write
		iter := tx.Documents(coll)
		var existing []*firestore.DocumentRef
		for {
			doc, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				iter.Stop()
				return err
			}
			existing = append(existing, doc.Ref)
		}
		iter.Stop()

		keep := make(map[string]bool, len(topics))
		for i, topic := range topics {
			id := topicDocID(i)
			keep[id] = true
			if err := tx.Set(coll.Doc(id), topicDoc{Topic: topic, Position: i}); err != nil {
				return err
			}
		}
		// a document is written at most once per transaction
		for _, ref := range existing {
			if keep[ref.ID] {
				continue
			}
			if err := tx.Delete(ref); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save topics: %w", err)
	}
	return nil
}
