package feed

import (
	"fmt"
	"strings"
	"sync"
)

// Topic names follow a pattern:
//
//	mutation:<mutationID> — events for a specific mutation
//	entity:<entityType>   — all mutation events for an entity type
//	mutations             — all mutation lifecycle events
//	passes                — all sync pass events
//	deadletters           — dead-letter, recovery and export events
//	firehose              — everything

const (
	TopicMutations   = "mutations"
	TopicPasses      = "passes"
	TopicDeadLetters = "deadletters"
	TopicFirehose    = "firehose"
)

// MutationTopic returns the topic name for a specific mutation.
func MutationTopic(mutationID string) string { return "mutation:" + mutationID }

// EntityTopic returns the topic name for an entity type.
func EntityTopic(entityType string) string { return "entity:" + entityType }

// TopicRegistry manages subscriber sets per topic.
// It is safe for concurrent use.
type TopicRegistry struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscriber // topic → subscriberID → subscriber
}

// NewTopicRegistry creates an empty topic registry.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{
		topics: make(map[string]map[string]*Subscriber),
	}
}

// Subscribe adds a subscriber to a topic. Creates the topic if it
// doesn't exist.
func (tr *TopicRegistry) Subscribe(topic string, sub *Subscriber) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	subs, ok := tr.topics[topic]
	if !ok {
		subs = make(map[string]*Subscriber)
		tr.topics[topic] = subs
	}
	subs[sub.ID()] = sub
	sub.addTopic(topic)
}

// Unsubscribe removes a subscriber from a topic. Cleans up empty topics.
func (tr *TopicRegistry) Unsubscribe(topic, subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	subs, ok := tr.topics[topic]
	if !ok {
		return
	}
	if sub, exists := subs[subscriberID]; exists {
		sub.removeTopic(topic)
		delete(subs, subscriberID)
	}
	if len(subs) == 0 {
		delete(tr.topics, topic)
	}
}

// UnsubscribeAll removes a subscriber from all topics.
func (tr *TopicRegistry) UnsubscribeAll(subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	for topic, subs := range tr.topics {
		if sub, ok := subs[subscriberID]; ok {
			sub.removeTopic(topic)
			delete(subs, subscriberID)
		}
		if len(subs) == 0 {
			delete(tr.topics, topic)
		}
	}
}

// Publish sends an event to all subscribers on the given topic.
// Returns the number of subscribers that received the event and the
// number that dropped it.
func (tr *TopicRegistry) Publish(topic string, evt *Event) (delivered, dropped int) {
	tr.mu.RLock()
	subs := tr.topics[topic]
	// Copy to avoid holding lock during send.
	targets := make([]*Subscriber, 0, len(subs))
	for _, s := range subs {
		targets = append(targets, s)
	}
	tr.mu.RUnlock()

	for _, s := range targets {
		if s.send(evt) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}

// Broadcast sends an event to all subscribers on multiple topics.
// Deduplicates subscribers that are on more than one of the listed topics.
func (tr *TopicRegistry) Broadcast(topics []string, evt *Event) (delivered, dropped int) {
	tr.mu.RLock()
	seen := make(map[string]*Subscriber)
	for _, topic := range topics {
		for id, sub := range tr.topics[topic] {
			seen[id] = sub
		}
	}
	tr.mu.RUnlock()

	for _, sub := range seen {
		if sub.send(evt) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}

// TopicCount returns the number of active topics.
func (tr *TopicRegistry) TopicCount() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics)
}

// SubscriberCount returns the number of subscribers on a topic.
func (tr *TopicRegistry) SubscriberCount(topic string) int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics[topic])
}

// resolveTopics returns all topics an event should be published to
// based on its type and data. Extra topics (e.g. the entity-type
// topic for mutation events) are appended as-is.
func resolveTopics(evt *Event, extra ...string) []string {
	topics := []string{TopicFirehose}

	evtType := string(evt.Type)
	switch {
	case strings.HasPrefix(evtType, "mutation."):
		topics = append(topics, TopicMutations)
	case strings.HasPrefix(evtType, "sync."):
		topics = append(topics, TopicPasses)
	case strings.HasPrefix(evtType, "deadletter."), strings.HasPrefix(evtType, "export."):
		topics = append(topics, TopicDeadLetters)
	}

	// Add entity-specific topic from the event's own topic field.
	if evt.Topic != "" {
		topics = append(topics, evt.Topic)
	}

	return append(topics, extra...)
}

// ParseTopicEntity extracts the entity type and ID from a topic string.
// For example, "mutation:mut_abc123" returns ("mutation", "mut_abc123").
// Returns ("", "") for global topics like "mutations" or "firehose".
func ParseTopicEntity(topic string) (entityType, entityID string) {
	idx := strings.IndexByte(topic, ':')
	if idx < 0 {
		return "", ""
	}
	return topic[:idx], topic[idx+1:]
}

// ValidateTopic checks whether a topic string is valid.
func ValidateTopic(topic string) error {
	switch topic {
	case TopicMutations, TopicPasses, TopicDeadLetters, TopicFirehose:
		return nil
	}

	entityType, entityID := ParseTopicEntity(topic)
	if entityType == "" || entityID == "" {
		return fmt.Errorf("feed: invalid topic %q", topic)
	}

	switch entityType {
	case "mutation", "entity":
		return nil
	default:
		return fmt.Errorf("feed: unknown topic prefix %q", entityType)
	}
}
