package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/homedash/pkg/log"
	"github.com/raterudder/homedash/pkg/types"
)

// DefaultDataTopic carries the full snapshot JSON.
const DefaultDataTopic = "home/dashboard/data"

// DefaultTopics are subscribed when no topics have been stored.
var DefaultTopics = []string{DefaultDataTopic, "home/sensors/#"}

// mqttClient is the subset of mqtt.Client used by Bus.
type mqttClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Bus is a Streamer backed by an MQTT broker. Messages on the data topic
// replace the latest snapshot; every message is handed to the registered
// handler.
type Bus struct {
	broker         string
	clientID       string
	username       string
	password       string
	dataTopic      string
	connectTimeout time.Duration
	store          TopicStore
	secondary      Source
	newClient      func(*mqtt.ClientOptions) mqttClient

	mu      sync.Mutex
	logCtx  context.Context
	client  mqttClient
	topics  []string
	latest  *types.DashboardSnapshot
	handler func(Message)
}

// NewBus returns a bus for broker. store may be nil, in which case topics are
// not persisted. secondary serves the on-demand queries and may be nil.
func NewBus(broker, clientID, dataTopic string, store TopicStore, secondary Source) *Bus {
	return &Bus{
		broker:         broker,
		clientID:       clientID,
		dataTopic:      dataTopic,
		connectTimeout: 5 * time.Second,
		store:          store,
		secondary:      secondary,
		newClient: func(o *mqtt.ClientOptions) mqttClient {
			return mqtt.NewClient(o)
		},
		logCtx: context.Background(),
	}
}

func configuredBus(store TopicStore) *Bus {
	b := NewBus("", "", DefaultDataTopic, store, nil)
	broker := lflag.String("mqtt-broker", "tcp://localhost:1883", "MQTT broker address (tcp://, ssl:// or ws://)")
	clientID := lflag.String("mqtt-client-id", "homedash", "MQTT client identifier")
	username := lflag.String("mqtt-username", "", "MQTT username (optional)")
	password := lflag.String("mqtt-password", "", "MQTT password (optional)")
	dataTopic := lflag.String("mqtt-data-topic", DefaultDataTopic, "MQTT topic carrying the full snapshot JSON")
	connectTimeout := lflag.Duration("mqtt-connect-timeout", 5*time.Second, "Timeout for the initial MQTT connection")

	lflag.Do(func() {
		b.broker = *broker
		b.clientID = *clientID
		b.username = *username
		b.password = *password
		b.dataTopic = *dataTopic
		b.connectTimeout = *connectTimeout
	})

	return b
}

// Validate ensures the configuration is valid.
func (b *Bus) Validate() error {
	if b.broker == "" {
		return errors.New("mqtt-broker is required")
	}
	if _, err := url.Parse(b.broker); err != nil {
		return fmt.Errorf("failed to parse mqtt broker (%s): %w", b.broker, err)
	}
	if b.clientID == "" {
		return errors.New("mqtt-client-id is required")
	}
	if b.dataTopic == "" {
		return errors.New("mqtt-data-topic is required")
	}
	return nil
}

// OnMessage implements Streamer.
func (b *Bus) OnMessage(fn func(Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = fn
}

func (b *Bus) loadTopics(ctx context.Context) []string {
	if b.store == nil {
		return slices.Clone(DefaultTopics)
	}
	topics, err := b.store.GetTopics(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to load topics, using defaults", slog.Any("error", err))
		return slices.Clone(DefaultTopics)
	}
	if len(topics) == 0 {
		return slices.Clone(DefaultTopics)
	}
	return topics
}

// Connect implements Streamer. The client reconnects on its own after the
// first successful connection and resubscribes every time it does.
func (b *Bus) Connect(ctx context.Context) error {
	topics := b.loadTopics(ctx)

	opts := mqtt.NewClientOptions().
		AddBroker(b.broker).
		SetClientID(b.clientID).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetConnectTimeout(b.connectTimeout).
		SetMaxReconnectInterval(10 * time.Second).
		SetOnConnectHandler(b.handleConnect).
		SetConnectionLostHandler(b.handleConnectionLost)
	if b.username != "" {
		opts.SetUsername(b.username)
		opts.SetPassword(b.password)
	}

	client := b.newClient(opts)
	b.mu.Lock()
	prev := b.client
	b.logCtx = ctx
	b.client = client
	b.topics = topics
	b.mu.Unlock()

	// only one client may hold the client id at the broker
	if prev != nil {
		prev.Disconnect(0)
	}

	log.Ctx(ctx).InfoContext(ctx, "connecting to mqtt broker", slog.String("broker", b.broker))

	waitCtx, cancel := context.WithTimeout(ctx, b.connectTimeout)
	defer cancel()
	if err := waitToken(waitCtx, client.Connect()); err != nil {
		// paho keeps connecting in the background after the wait gives up
		client.Disconnect(0)
		b.mu.Lock()
		if b.client == client {
			b.client = nil
		}
		b.mu.Unlock()
		return fmt.Errorf("failed to connect to mqtt broker %s: %w", b.broker, err)
	}
	return nil
}

// Close implements Streamer.
func (b *Bus) Close() {
	b.mu.Lock()
	client := b.client
	b.client = nil
	b.mu.Unlock()
	if client != nil {
		client.Disconnect(250)
	}
}

func waitToken(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) handleConnect(_ mqtt.Client) {
	b.mu.Lock()
	ctx := b.logCtx
	client := b.client
	topics := slices.Clone(b.topics)
	b.mu.Unlock()
	if client == nil {
		return
	}

	log.Ctx(ctx).InfoContext(ctx, "connected to mqtt broker", slog.Int("topics", len(topics)))
	for _, topic := range topics {
		tok := client.Subscribe(topic, 0, b.handleMessage)
		// waiting inside the connect handler would block the client
		go func() {
			<-tok.Done()
			if err := tok.Error(); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to subscribe", slog.String("topic", topic), slog.Any("error", err))
			}
		}()
	}
}

func (b *Bus) handleConnectionLost(_ mqtt.Client, err error) {
	b.mu.Lock()
	ctx := b.logCtx
	b.mu.Unlock()
	log.Ctx(ctx).WarnContext(ctx, "mqtt connection lost", slog.Any("error", err))
}

func (b *Bus) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	m := Message{
		Topic:    msg.Topic(),
		Payload:  slices.Clone(msg.Payload()),
		Received: time.Now(),
	}

	b.mu.Lock()
	ctx := b.logCtx
	var prev types.DashboardSnapshot
	if b.latest != nil {
		prev = *b.latest
	}
	b.mu.Unlock()

	if m.Topic == b.dataTopic {
		snap, err := DecodeSnapshot(ctx, m.Payload, prev)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to decode data topic message", slog.Any("error", err))
			m.Err = err
		} else {
			m.Snapshot = &snap
			b.mu.Lock()
			b.latest = &snap
			b.mu.Unlock()
		}
	}

	b.mu.Lock()
	handler := b.handler
	b.mu.Unlock()
	if handler != nil {
		handler(m)
	}
}

func (b *Bus) connectedClient() (mqttClient, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil || !b.client.IsConnected() {
		return nil, ErrNotConnected
	}
	return b.client, nil
}

// FetchSnapshot implements Source by returning the latest snapshot received on
// the data topic. prev is not needed since messages are decoded on arrival.
func (b *Bus) FetchSnapshot(ctx context.Context, prev types.DashboardSnapshot) (types.DashboardSnapshot, error) {
	if _, err := b.connectedClient(); err != nil {
		return types.DashboardSnapshot{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.latest == nil {
		return types.DashboardSnapshot{}, ErrNoData
	}
	return b.latest.Clone(), nil
}

// Topics implements TopicManager.
func (b *Bus) Topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.topics == nil {
		return slices.Clone(DefaultTopics)
	}
	return slices.Clone(b.topics)
}

// AddTopic implements TopicManager. Adding an already subscribed topic is a
// no-op.
func (b *Bus) AddTopic(ctx context.Context, topic string) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	b.mu.Lock()
	if b.topics == nil {
		b.topics = slices.Clone(DefaultTopics)
	}
	if slices.Contains(b.topics, topic) {
		b.mu.Unlock()
		return nil
	}
	b.topics = append(b.topics, topic)
	topics := slices.Clone(b.topics)
	client := b.client
	b.mu.Unlock()

	if err := b.persistTopics(ctx, topics); err != nil {
		return err
	}
	if client != nil && client.IsConnected() {
		if err := waitToken(ctx, client.Subscribe(topic, 0, b.handleMessage)); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}
	log.Ctx(ctx).InfoContext(ctx, "added topic", slog.String("topic", topic))
	return nil
}

// RemoveTopic implements TopicManager. Removing an unknown topic is a no-op.
func (b *Bus) RemoveTopic(ctx context.Context, topic string) error {
	b.mu.Lock()
	if b.topics == nil {
		b.topics = slices.Clone(DefaultTopics)
	}
	i := slices.Index(b.topics, topic)
	if i < 0 {
		b.mu.Unlock()
		return nil
	}
	b.topics = slices.Delete(b.topics, i, i+1)
	topics := slices.Clone(b.topics)
	client := b.client
	b.mu.Unlock()

	if client != nil && client.IsConnected() {
		if err := waitToken(ctx, client.Unsubscribe(topic)); err != nil {
			return fmt.Errorf("failed to unsubscribe from %s: %w", topic, err)
		}
	}
	if err := b.persistTopics(ctx, topics); err != nil {
		return err
	}
	log.Ctx(ctx).InfoContext(ctx, "removed topic", slog.String("topic", topic))
	return nil
}

func (b *Bus) persistTopics(ctx context.Context, topics []string) error {
	if b.store == nil {
		return nil
	}
	if err := b.store.SetTopics(ctx, topics); err != nil {
		return fmt.Errorf("failed to store topics: %w", err)
	}
	return nil
}

// Publish implements TopicManager.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	client, err := b.connectedClient()
	if err != nil {
		return err
	}
	if err := waitToken(ctx, client.Publish(topic, 0, false, payload)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (b *Bus) secondarySource() (Source, error) {
	if b.secondary == nil {
		return nil, fmt.Errorf("secondary queries need upstream-url: %w", ErrUnsupported)
	}
	return b.secondary, nil
}

// RangeSeries implements Source.
func (b *Bus) RangeSeries(ctx context.Context, start, end time.Time) (types.TimeSeriesChartData, error) {
	s, err := b.secondarySource()
	if err != nil {
		return types.TimeSeriesChartData{}, err
	}
	return s.RangeSeries(ctx, start, end)
}

// ForecastSeries implements Source.
func (b *Bus) ForecastSeries(ctx context.Context) (types.ForecastSeries, error) {
	s, err := b.secondarySource()
	if err != nil {
		return types.ForecastSeries{}, err
	}
	return s.ForecastSeries(ctx)
}

// AnnualSummary implements Source.
func (b *Bus) AnnualSummary(ctx context.Context) (types.AnnualSummary, error) {
	s, err := b.secondarySource()
	if err != nil {
		return nil, err
	}
	return s.AnnualSummary(ctx)
}

// DailyHistory implements Source.
func (b *Bus) DailyHistory(ctx context.Context) (types.DailyHistory, error) {
	s, err := b.secondarySource()
	if err != nil {
		return types.DailyHistory{}, err
	}
	return s.DailyHistory(ctx)
}

// Totals implements Source.
func (b *Bus) Totals(ctx context.Context) (types.TotalsSample, error) {
	s, err := b.secondarySource()
	if err != nil {
		return types.TotalsSample{}, err
	}
	return s.Totals(ctx)
}
