package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cnc5/glacier/pkg/types"
)

// EventType represents the type of event
type EventType string

const (
	EventSessionCreated EventType = "session.created"
	EventSessionDeleted EventType = "session.deleted"
	EventTaskCreated    EventType = "task.created"
	EventTaskState      EventType = "task.state"
	EventTaskDeleted    EventType = "task.deleted"
)

// Event represents a task or session lifecycle event
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	TaskID    string
	SessionID string
	Username  string
	State     types.TaskState
	Message   string
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker. The distribution loop closes every subscriber
// channel on its way out, so range loops over subscriptions terminate.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription and closes its channel. A no-op for
// channels already closed by Stop.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers. Identity and timestamp are
// filled in when absent.
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			// Closing from the distribution goroutine means no broadcast
			// can race a closed channel.
			b.closeSubscribers()
			return
		}
	}
}

func (b *Broker) closeSubscribers() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		delete(b.subscribers, sub)
		close(sub)
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
