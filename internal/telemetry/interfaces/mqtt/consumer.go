package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"gasgrid-cloud/internal/observability/metrics"
)

// Ingest is the accept pipeline the consumer feeds.
type Ingest interface {
	Ingest(ctx context.Context, clientID string, at time.Time, values map[string]float64) error
}

// ConsumerConfig holds broker connection settings.
type ConsumerConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	Topic     string
	QoS       byte
	// HandleTimeout bounds one message's trip through ingest.
	HandleTimeout time.Duration
}

// Consumer subscribes to the device topic and feeds decoded readings
// into the ingest pipeline.
type Consumer struct {
	client  paho.Client
	config  ConsumerConfig
	ingest  Ingest
	logger  zerolog.Logger
	baseCtx context.Context
}

// NewConsumer constructs a consumer. Connect is deferred to Start.
func NewConsumer(config ConsumerConfig, ingest Ingest, logger zerolog.Logger) (*Consumer, error) {
	if config.BrokerURL == "" {
		return nil, errors.New("mqtt consumer: empty broker url")
	}
	if config.Topic == "" {
		return nil, errors.New("mqtt consumer: empty topic")
	}
	if ingest == nil {
		return nil, errors.New("mqtt consumer: nil ingest")
	}
	if config.ClientID == "" {
		config.ClientID = "gasgrid-ingest"
	}
	if config.HandleTimeout <= 0 {
		config.HandleTimeout = 10 * time.Second
	}

	consumer := &Consumer{config: config, ingest: ingest, logger: logger}

	opts := paho.NewClientOptions().
		AddBroker(config.BrokerURL).
		SetClientID(config.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(false).
		SetOrderMatters(false)
	if config.Username != "" {
		opts.SetUsername(config.Username)
	}
	if config.Password != "" {
		opts.SetPassword(config.Password)
	}
	opts.SetOnConnectHandler(func(client paho.Client) {
		// Resubscribe after every (re)connect; the broker may have
		// dropped session state.
		token := client.Subscribe(config.Topic, config.QoS, consumer.handleMessage)
		if token.Wait() && token.Error() != nil {
			logger.Error().Err(token.Error()).Str("topic", config.Topic).Msg("mqtt subscribe failed")
			return
		}
		logger.Info().Str("topic", config.Topic).Msg("mqtt subscribed")
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn().Err(err).Msg("mqtt connection lost")
	})

	consumer.client = paho.NewClient(opts)
	return consumer, nil
}

// Start connects to the broker. The subscription is established by the
// connect handler. Blocks only for the initial connect.
func (c *Consumer) Start(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("mqtt consumer: nil client")
	}
	c.baseCtx = ctx
	token := c.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt consumer: connect: %w", token.Error())
	}
	return nil
}

// Close disconnects from the broker.
func (c *Consumer) Close() {
	if c == nil || c.client == nil {
		return
	}
	c.client.Disconnect(250)
}

func (c *Consumer) handleMessage(_ paho.Client, msg paho.Message) {
	decoded, err := DecodePayload(msg.Payload())
	if err != nil {
		reason := rejectReason(err)
		metrics.IncMalformedReading(reason)
		c.logger.Warn().
			Err(err).
			Str("topic", msg.Topic()).
			Str("reason", reason).
			Msg("malformed reading rejected")
		return
	}

	base := c.baseCtx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithTimeout(base, c.config.HandleTimeout)
	defer cancel()

	if err := c.ingest.Ingest(ctx, decoded.ClientID, decoded.Timestamp, decoded.Values); err != nil {
		c.logger.Error().
			Err(err).
			Str("client_id", decoded.ClientID).
			Msg("reading ingest failed")
	}
}
