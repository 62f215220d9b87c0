package local

import (
	"context"
	"sync"
)

// LocalMessage is an in-process pub/sub message.
type LocalMessage struct {
	Channel string
	Payload string
}

type subscriber struct {
	ch       chan *LocalMessage
	channels []string
	closed   bool
}

// LocalPubSub is an in-process fan-out pub/sub implementation.
//
// A subscriber whose buffer is full is disconnected rather than silently
// skipped: its channel is closed, so a trade event stream ends and the client
// reconnects for a fresh snapshot instead of missing a state change.
type LocalPubSub struct {
	mu          sync.Mutex
	subscribers map[string][]*subscriber
	bufSize     int
}

// NewPubSub creates a new LocalPubSub with the given per-subscriber buffer size.
func NewPubSub(bufSize int) *LocalPubSub {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &LocalPubSub{
		subscribers: make(map[string][]*subscriber),
		bufSize:     bufSize,
	}
}

// Publish sends a message to all subscribers of the given channel without
// blocking.
func (ps *LocalPubSub) Publish(_ context.Context, channel, message string) error {
	msg := &LocalMessage{Channel: channel, Payload: message}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	var overrun []*subscriber
	for _, s := range ps.subscribers[channel] {
		select {
		case s.ch <- msg:
		default:
			overrun = append(overrun, s)
		}
	}
	for _, s := range overrun {
		ps.remove(s)
	}
	return nil
}

// Subscribe returns a channel of messages for the given channels, and a cancel function.
// The returned channel is closed by cancel; cancel is safe to call more than once.
func (ps *LocalPubSub) Subscribe(_ context.Context, channels ...string) (<-chan *LocalMessage, func(), error) {
	s := &subscriber{
		ch:       make(chan *LocalMessage, ps.bufSize),
		channels: append([]string(nil), channels...),
	}

	ps.mu.Lock()
	for _, c := range channels {
		ps.subscribers[c] = append(ps.subscribers[c], s)
	}
	ps.mu.Unlock()

	cancel := func() {
		ps.mu.Lock()
		defer ps.mu.Unlock()
		ps.remove(s)
	}
	return s.ch, cancel, nil
}

// remove detaches s from every channel and closes it. Callers hold ps.mu.
func (ps *LocalPubSub) remove(s *subscriber) {
	if s.closed {
		return
	}
	s.closed = true
	for _, c := range s.channels {
		list := ps.subscribers[c]
		for j, sub := range list {
			if sub == s {
				ps.subscribers[c] = append(list[:j:j], list[j+1:]...)
				break
			}
		}
		if len(ps.subscribers[c]) == 0 {
			delete(ps.subscribers, c)
		}
	}
	close(s.ch)
}
