package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Envelope is the JSON message pushed to a client channel.
type Envelope struct {
	Event   string      `json:"event"`
	UserID  string      `json:"userId"`
	Payload interface{} `json:"payload"`
}

// RegistryObserver pushes notifications to the local connection registry.
type RegistryObserver struct {
	registry *Registry
}

// NewRegistryObserver constructs an observer delivering to registry.
func NewRegistryObserver(registry *Registry) *RegistryObserver {
	return &RegistryObserver{registry: registry}
}

// Name identifies the observer in logs and metrics.
func (o *RegistryObserver) Name() string { return "registry" }

// Notify sends the envelope to every channel of userID.
func (o *RegistryObserver) Notify(_ context.Context, userID, eventType string, payload interface{}) error {
	return o.registry.Send(userID, Envelope{Event: eventType, UserID: userID, Payload: payload})
}

type clusterEvent struct {
	Source   string          `json:"source"`
	Envelope json.RawMessage `json:"envelope"`
	SentAt   time.Time       `json:"sent_at"`
}

// ClusterObserver republishes notifications so users connected to other API
// nodes receive them. Incoming events from peers are delivered to the local
// registry; events this node published are ignored.
type ClusterObserver struct {
	registry     *Registry
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	nodeID       string
	logger       zerolog.Logger
}

// NewClusterObserver constructs a cluster observer. Either transport may be nil.
func NewClusterObserver(registry *Registry, redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) *ClusterObserver {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":notifications"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".notifications"
	}

	return &ClusterObserver{
		registry:     registry,
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		nodeID:       uuid.NewString(),
		logger:       logger.With().Str("component", "cluster_observer").Logger(),
	}
}

// Enabled reports whether any transport is configured.
func (o *ClusterObserver) Enabled() bool {
	return (o.redis != nil && o.redisChannel != "") || (o.nats != nil && o.natsSubject != "")
}

// Name identifies the observer in logs and metrics.
func (o *ClusterObserver) Name() string { return "cluster" }

// Notify publishes the envelope on every configured transport.
func (o *ClusterObserver) Notify(ctx context.Context, userID, eventType string, payload interface{}) error {
	envelope, err := json.Marshal(Envelope{Event: eventType, UserID: userID, Payload: payload})
	if err != nil {
		return err
	}
	message, err := json.Marshal(clusterEvent{Source: o.nodeID, Envelope: envelope, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	var errs []error
	if o.redis != nil && o.redisChannel != "" {
		if err := o.redis.Publish(ctx, o.redisChannel, message).Err(); err != nil {
			errs = append(errs, err)
		}
	}
	if o.nats != nil && o.natsSubject != "" {
		if err := o.nats.Publish(o.natsSubject, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Start subscribes to peer events until ctx is cancelled.
func (o *ClusterObserver) Start(ctx context.Context) {
	if o.redis != nil && o.redisChannel != "" {
		pubsub := o.redis.Subscribe(ctx, o.redisChannel)
		go o.consumeRedis(ctx, pubsub)
	}
	if o.nats != nil && o.natsSubject != "" {
		o.consumeNATS(ctx)
	}
}

func (o *ClusterObserver) consumeRedis(ctx context.Context, pubsub *redis.PubSub) {
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
				return
			}
			o.logger.Error().Err(err).Msg("notification redis subscription closed")
			return
		}
		o.handleEvent([]byte(msg.Payload))
	}
}

func (o *ClusterObserver) consumeNATS(ctx context.Context) {
	sub, err := o.nats.Subscribe(o.natsSubject, func(msg *nats.Msg) {
		o.handleEvent(msg.Data)
	})
	if err != nil {
		o.logger.Error().Err(err).Msg("failed to subscribe to nats notifications subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			o.logger.Warn().Err(err).Msg("failed to drain notification nats subscription")
		}
	}()
}

func (o *ClusterObserver) handleEvent(data []byte) {
	var event clusterEvent
	if err := json.Unmarshal(data, &event); err != nil {
		o.logger.Warn().Err(err).Msg("invalid cluster notification payload")
		return
	}
	if event.Source == o.nodeID {
		return
	}

	var envelope Envelope
	if err := json.Unmarshal(event.Envelope, &envelope); err != nil {
		o.logger.Warn().Err(err).Msg("invalid cluster notification envelope")
		return
	}
	if envelope.UserID == "" {
		return
	}

	if err := o.registry.Send(envelope.UserID, envelope); err != nil {
		o.logger.Warn().Err(err).Str("user_id", envelope.UserID).Msg("deliver cluster notification")
	}
}
