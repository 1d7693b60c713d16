package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// RelayConfig holds configuration for the JetStream delta relay.
type RelayConfig struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	MaxAge        time.Duration
}

// DefaultRelayConfig returns default relay configuration.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		URL:           nats.DefaultURL,
		StreamName:    "BOARD_EVENTS",
		SubjectPrefix: "board.events",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		MaxAge:        time.Hour,
	}
}

// relayEnvelope wraps one committed delta for transport between instances.
type relayEnvelope struct {
	EventID    string          `json:"event_id"`
	InstanceID string          `json:"instance_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload"`
}

// Relay fans committed board deltas out across server instances through
// JetStream. Each instance publishes its own commits under a per-instance
// subject and rebroadcasts deltas originating elsewhere to its local
// sessions. Publishing is asynchronous so the store's commit path never
// blocks on the broker.
type Relay struct {
	manager    *ConnectionManager
	nc         *nats.Conn
	js         jetstream.JetStream
	config     RelayConfig
	instanceID string

	publishCh chan relayEnvelope
}

// NewRelay connects to NATS and ensures the delta stream exists.
func NewRelay(manager *ConnectionManager, config RelayConfig) (*Relay, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	r := &Relay{
		manager:    manager,
		nc:         nc,
		js:         js,
		config:     config,
		instanceID: uuid.New().String(),
		publishCh:  make(chan relayEnvelope, 1024),
	}

	if err := r.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return r, nil
}

func (r *Relay) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:      r.config.StreamName,
		Subjects:  []string{fmt.Sprintf("%s.>", r.config.SubjectPrefix)},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    r.config.MaxAge,
		Storage:   jetstream.FileStorage,
	}

	if _, err := r.js.Stream(ctx, r.config.StreamName); err != nil {
		if !errors.Is(err, jetstream.ErrStreamNotFound) {
			return fmt.Errorf("get stream: %w", err)
		}
		if _, err := r.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", r.config.StreamName).Msg("created JetStream delta stream")
	}
	return nil
}

// PublishPixel queues a committed placement for the other instances.
// Non-blocking; called from the store's commit path.
func (r *Relay) PublishPixel(msg PixelMessage) {
	r.publish(msg)
}

// PublishClear queues a committed region clear for the other instances.
func (r *Relay) PublishClear(msg ClearMessage) {
	r.publish(msg)
}

func (r *Relay) publish(message interface{}) {
	payload, err := json.Marshal(message)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal relay payload")
		return
	}

	env := relayEnvelope{
		EventID:    uuid.New().String(),
		InstanceID: r.instanceID,
		Timestamp:  time.Now(),
		Payload:    payload,
	}

	select {
	case r.publishCh <- env:
	default:
		log.Warn().Msg("relay publish channel full, dropping delta")
	}
}

// Start runs the publish loop and the peer-delta consumer until ctx is done.
func (r *Relay) Start(ctx context.Context) error {
	consumer, err := r.createConsumer(ctx)
	if err != nil {
		return err
	}

	go r.runPublisher(ctx)

	messageCh := make(chan jetstream.Msg, 100)
	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	log.Info().
		Str("stream", r.config.StreamName).
		Str("instance_id", r.instanceID).
		Msg("delta relay started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("delta relay shutting down")
			return nil
		case msg := <-messageCh:
			if err := r.processMessage(msg); err != nil {
				log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to process relay message")
				if nakErr := msg.Nak(); nakErr != nil {
					log.Error().Err(nakErr).Msg("failed to NAK relay message")
				}
			} else if ackErr := msg.Ack(); ackErr != nil {
				log.Error().Err(ackErr).Msg("failed to ACK relay message")
			}
		}
	}
}

// createConsumer builds a per-instance ephemeral consumer that sees only
// deltas published after this instance connected: sessions that existed
// earlier already have them through the init snapshot.
func (r *Relay) createConsumer(ctx context.Context) (jetstream.Consumer, error) {
	stream, err := r.js.Stream(ctx, r.config.StreamName)
	if err != nil {
		return nil, fmt.Errorf("get stream: %w", err)
	}

	consumer, err := stream.CreateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject:     fmt.Sprintf("%s.>", r.config.SubjectPrefix),
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		AckPolicy:         jetstream.AckExplicitPolicy,
		InactiveThreshold: 5 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer: %w", err)
	}
	return consumer, nil
}

func (r *Relay) runPublisher(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-r.publishCh:
			data, err := json.Marshal(env)
			if err != nil {
				log.Error().Err(err).Msg("failed to marshal relay envelope")
				continue
			}
			subject := fmt.Sprintf("%s.%s", r.config.SubjectPrefix, r.instanceID)
			if _, err := r.js.Publish(ctx, subject, data); err != nil {
				log.Error().Err(err).Str("subject", subject).Msg("failed to publish delta")
			}
		}
	}
}

func (r *Relay) processMessage(msg jetstream.Msg) error {
	var env relayEnvelope
	if err := json.Unmarshal(msg.Data(), &env); err != nil {
		return fmt.Errorf("unmarshal relay envelope: %w", err)
	}

	// Our own deltas already reached local sessions at commit time.
	if env.InstanceID == r.instanceID {
		return nil
	}

	log.Debug().
		Str("event_id", env.EventID).
		Str("instance_id", env.InstanceID).
		Msg("rebroadcasting peer delta")

	r.manager.BroadcastRaw(env.Payload)
	return nil
}

// Stop gracefully shuts down the relay connection.
func (r *Relay) Stop() {
	if r.nc != nil {
		r.nc.Close()
	}
}
