package realtime

import (
	"encoding/json"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/noah-isme/readmaster-api/internal/observability"
)

const shardCount = 32

// Channel is one live, bidirectional connection to a client.
type Channel interface {
	Send(message []byte) error
	Close() error
}

type registryShard struct {
	mu    sync.RWMutex
	users map[string]map[Channel]struct{}
}

// Registry maps user ids to their live channels. Users are spread across
// shards so connects and sends for different users rarely contend.
type Registry struct {
	shards [shardCount]*registryShard
	logger zerolog.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	r := &Registry{logger: logger.With().Str("component", "connection_registry").Logger()}
	for i := range r.shards {
		r.shards[i] = &registryShard{users: make(map[string]map[Channel]struct{})}
	}
	return r
}

func (r *Registry) shard(userID string) *registryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return r.shards[h.Sum32()%shardCount]
}

// Connect registers ch for userID.
func (r *Registry) Connect(userID string, ch Channel) {
	s := r.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	channels, ok := s.users[userID]
	if !ok {
		channels = make(map[Channel]struct{})
		s.users[userID] = channels
	}
	if _, exists := channels[ch]; exists {
		return
	}
	channels[ch] = struct{}{}
	observability.RealtimeConnections().Inc()
}

// Disconnect removes ch. The user entry is dropped with its last channel.
func (r *Registry) Disconnect(userID string, ch Channel) {
	s := r.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	channels, ok := s.users[userID]
	if !ok {
		return
	}
	if _, exists := channels[ch]; !exists {
		return
	}
	delete(channels, ch)
	observability.RealtimeConnections().Dec()
	if len(channels) == 0 {
		delete(s.users, userID)
	}
}

func (r *Registry) snapshot(userID string) []Channel {
	s := r.shard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	channels := s.users[userID]
	if len(channels) == 0 {
		return nil
	}
	out := make([]Channel, 0, len(channels))
	for ch := range channels {
		out = append(out, ch)
	}
	return out
}

// Send serialises message once and writes it to every channel of userID.
// Channels that fail are disconnected. A user with no channels is a no-op.
func (r *Registry) Send(userID string, message interface{}) error {
	channels := r.snapshot(userID)
	if len(channels) == 0 {
		return nil
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}

	for _, ch := range channels {
		if err := ch.Send(payload); err != nil {
			r.logger.Warn().Err(err).Str("user_id", userID).Msg("channel send failed, disconnecting")
			observability.RealtimeSendFailures().Inc()
			r.Disconnect(userID, ch)
			_ = ch.Close()
		}
	}
	return nil
}

// Broadcast sends message to every connected user.
func (r *Registry) Broadcast(message interface{}) error {
	for _, userID := range r.Users() {
		if err := r.Send(userID, message); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of channels registered for userID.
func (r *Registry) Count(userID string) int {
	s := r.shard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users[userID])
}

// Users returns the ids of all users with at least one channel.
func (r *Registry) Users() []string {
	var users []string
	for _, s := range r.shards {
		s.mu.RLock()
		for userID := range s.users {
			users = append(users, userID)
		}
		s.mu.RUnlock()
	}
	return users
}
