package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saicgr/AIFitnessCoach-sub010/export"
	"github.com/saicgr/AIFitnessCoach-sub010/hook"
	"github.com/saicgr/AIFitnessCoach-sub010/id"
	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
)

// Compile-time interface checks.
var (
	_ hook.Extension            = (*Broker)(nil)
	_ hook.MutationEnqueued     = (*Broker)(nil)
	_ hook.MutationStarted      = (*Broker)(nil)
	_ hook.MutationSynced       = (*Broker)(nil)
	_ hook.MutationRetrying     = (*Broker)(nil)
	_ hook.MutationDeadLettered = (*Broker)(nil)
	_ hook.PassStarted          = (*Broker)(nil)
	_ hook.PassFinished         = (*Broker)(nil)
	_ hook.DeadLettersRecovered = (*Broker)(nil)
	_ hook.ExportCreated        = (*Broker)(nil)
	_ hook.Shutdown             = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// Broker is the real-time feed broker. It implements the hook lifecycle
// interfaces to receive sync events and fans them out to subscribers
// via topic-based pub/sub.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	// Subscriber management.
	subscribers sync.Map // subscriberID → *Subscriber

	// Metrics.
	totalPublished atomic.Int64
	totalDropped   atomic.Int64

	// Config.
	bufferSize     int
	defaultCredits int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// NewBroker creates a new feed broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements hook.Extension.
func (b *Broker) Name() string { return "feed-broker" }

// Topics returns the topic registry for external use (e.g., the feed server).
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a new subscriber on the given topics.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// SubscribeTo adds an existing subscriber to additional topics.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return
	}
	sub := val.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true //nolint:errcheck // sync.Map always stores *Subscriber
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	count := 0
	b.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
		TotalDropped:    b.totalDropped.Load(),
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

// publish broadcasts an event to all matching topics.
func (b *Broker) publish(evt *Event, extra ...string) {
	topics := resolveTopics(evt, extra...)
	delivered, dropped := b.topics.Broadcast(topics, evt)
	b.totalPublished.Add(int64(delivered))
	b.totalDropped.Add(int64(dropped))
}

// mustMarshal marshals data to JSON, panicking on error (programming error).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("feed: marshal event data: " + err.Error())
	}
	return data
}

func mutationData(m *mutation.Mutation) MutationEventData {
	return MutationEventData{
		MutationID: m.ID.String(),
		EntityType: string(m.EntityType),
		EntityID:   m.EntityID,
		Operation:  string(m.Operation),
		UserID:     m.UserID,
		DeviceID:   m.DeviceID.String(),
	}
}

// ── Mutation lifecycle hooks ────────────────────────

func (b *Broker) OnMutationEnqueued(_ context.Context, m *mutation.Mutation) error {
	b.publish(&Event{
		Type:      EventMutationEnqueued,
		Timestamp: time.Now().UTC(),
		Topic:     MutationTopic(m.ID.String()),
		Data:      mustMarshal(mutationData(m)),
	}, EntityTopic(string(m.EntityType)))
	return nil
}

func (b *Broker) OnMutationStarted(_ context.Context, m *mutation.Mutation) error {
	b.publish(&Event{
		Type:      EventMutationStarted,
		Timestamp: time.Now().UTC(),
		Topic:     MutationTopic(m.ID.String()),
		Data:      mustMarshal(mutationData(m)),
	}, EntityTopic(string(m.EntityType)))
	return nil
}

func (b *Broker) OnMutationSynced(_ context.Context, m *mutation.Mutation, elapsed time.Duration) error {
	data := mutationData(m)
	data.ElapsedMs = elapsed.Milliseconds()
	b.publish(&Event{
		Type:      EventMutationSynced,
		Timestamp: time.Now().UTC(),
		Topic:     MutationTopic(m.ID.String()),
		Data:      mustMarshal(data),
	}, EntityTopic(string(m.EntityType)))
	return nil
}

func (b *Broker) OnMutationRetrying(_ context.Context, m *mutation.Mutation, attempt int, nextRunAt time.Time) error {
	data := mutationData(m)
	data.Attempt = attempt
	data.NextRunAt = nextRunAt.Format(time.RFC3339)
	data.Error = m.LastError
	b.publish(&Event{
		Type:      EventMutationRetrying,
		Timestamp: time.Now().UTC(),
		Topic:     MutationTopic(m.ID.String()),
		Data:      mustMarshal(data),
	}, EntityTopic(string(m.EntityType)))
	return nil
}

func (b *Broker) OnMutationDeadLettered(_ context.Context, m *mutation.Mutation, mutErr error) error {
	data := mutationData(m)
	data.Error = mutErr.Error()
	b.publish(&Event{
		Type:      EventMutationDead,
		Timestamp: time.Now().UTC(),
		Topic:     MutationTopic(m.ID.String()),
		Data:      mustMarshal(data),
	}, EntityTopic(string(m.EntityType)))
	return nil
}

// ── Sync pass hooks ─────────────────────────────────

func (b *Broker) OnPassStarted(_ context.Context, passID id.PassID, trigger string) error {
	b.publish(&Event{
		Type:      EventPassStarted,
		Timestamp: time.Now().UTC(),
		Data: mustMarshal(PassEventData{
			PassID:  passID.String(),
			Trigger: trigger,
		}),
	})
	return nil
}

func (b *Broker) OnPassFinished(_ context.Context, passID id.PassID, synced, failed int, elapsed time.Duration) error {
	b.publish(&Event{
		Type:      EventPassFinished,
		Timestamp: time.Now().UTC(),
		Data: mustMarshal(PassEventData{
			PassID:    passID.String(),
			Synced:    synced,
			Failed:    failed,
			ElapsedMs: elapsed.Milliseconds(),
		}),
	})
	return nil
}

// ── Dead-letter and export hooks ────────────────────

func (b *Broker) OnDeadLettersRecovered(_ context.Context, count int64) error {
	b.publish(&Event{
		Type:      EventDeadLettersRecovered,
		Timestamp: time.Now().UTC(),
		Data:      mustMarshal(RecoveryEventData{Recovered: count}),
	})
	return nil
}

func (b *Broker) OnExportCreated(_ context.Context, f *export.File) error {
	b.publish(&Event{
		Type:      EventExportCreated,
		Timestamp: time.Now().UTC(),
		Data: mustMarshal(ExportEventData{
			ExportID: f.ID.String(),
			Name:     f.Name,
			Size:     f.Size,
			Count:    f.Count,
		}),
	})
	return nil
}

// ── Shutdown ────────────────────────────────────────

func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		sub := value.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
		sub.Close()
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("feed broker shut down")
	return nil
}
