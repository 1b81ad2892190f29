package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/homedash/pkg/log"
	"github.com/raterudder/homedash/pkg/simulate"
	"github.com/raterudder/homedash/pkg/storage"
	"github.com/raterudder/homedash/pkg/types"
	"github.com/raterudder/homedash/pkg/upstream"
)

// seed fills a local Firestore emulator with settings and topics and can feed
// simulated snapshots to a broker, so a dev instance has something to show.
func main() {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	}
	s := storage.Configured()
	topics := lflag.String("seed-topics", strings.Join(upstream.DefaultTopics, ","), "comma-delimited list of topics to store")
	broker := lflag.String("seed-mqtt-broker", "", "MQTT broker to publish simulated snapshots to, empty to skip")
	messages := lflag.Int("seed-messages", 10, "number of simulated snapshots to publish")
	interval := lflag.Duration("seed-interval", time.Second, "delay between published snapshots")
	lflag.Configure()

	ctx := context.Background()
	defer s.Close()

	log.Ctx(ctx).InfoContext(ctx, "seeding settings and topics")

	settings, err := storage.LoadSettings(ctx, s)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed settings", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(
		ctx,
		"seeded settings",
		slog.Float64("gridAlertWatts", settings.GridAlertWatts),
		slog.Float64("lowBatterySOC", settings.LowBatterySOC),
		slog.String("location", settings.Location),
	)

	var seeded []string
	for _, topic := range strings.Split(*topics, ",") {
		if topic = strings.TrimSpace(topic); topic != "" {
			seeded = append(seeded, topic)
		}
	}
	if err := s.SetTopics(ctx, seeded); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed topics", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "seeded topics", slog.Any("topics", seeded))

	if *broker == "" {
		log.Ctx(ctx).InfoContext(ctx, "seeded mock data successfully")
		return
	}

	// publishing only, nothing is persisted
	bus := upstream.NewBus(*broker, "homedash-seed-"+uuid.NewString()[:8], upstream.DefaultDataTopic, nil, nil)
	if err := bus.Connect(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to connect to broker", slog.String("broker", *broker), slog.Any("error", err))
		os.Exit(1)
	}
	defer bus.Close()

	gen := simulate.New()
	snap := types.DefaultSnapshot()
	for i := 0; i < *messages; i++ {
		if i > 0 {
			time.Sleep(*interval)
		}
		snap = gen.Next(snap)
		body, err := json.Marshal(snap)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to encode snapshot", slog.Any("error", err))
			os.Exit(1)
		}
		if err := bus.Publish(ctx, upstream.DefaultDataTopic, body); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to publish snapshot", slog.Any("error", err))
			os.Exit(1)
		}
		log.Ctx(ctx).InfoContext(
			ctx,
			"published snapshot",
			slog.Int("n", i+1),
			slog.Float64("gridWatts", snap.GridWatts()),
			slog.Float64("soc", snap.BatterySOC()),
		)
	}

	log.Ctx(ctx).InfoContext(ctx, "seeded mock data successfully")
}
