package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/leadlink/internal/intake"
	"github.com/wolfeidau/leadlink/internal/nlu"
	"github.com/wolfeidau/leadlink/internal/notify"
	"github.com/wolfeidau/leadlink/internal/store"
)

// PipelineFlags configure the turn processor and its collaborators.
type PipelineFlags struct {
	NLUURL     string        `help:"base URL of the analysis service" env:"LEADLINK_NLU_URL"`
	NLUTimeout time.Duration `help:"timeout for one analysis call" default:"30s" env:"LEADLINK_NLU_TIMEOUT"`
	NLUStub    bool          `help:"use the built-in deterministic analyzer (development only)" default:"false" env:"LEADLINK_NLU_STUB"`

	HistoryLimit     int `help:"prior turns sent for analysis" default:"50" env:"LEADLINK_HISTORY_LIMIT"`
	MaxMessageLength int `help:"maximum message length in characters" default:"4000" env:"LEADLINK_MAX_MESSAGE_LENGTH"`

	RedisAddr string        `help:"Redis address for inbound message deduplication (disabled when empty)" env:"LEADLINK_REDIS_ADDR"`
	DedupTTL  time.Duration `help:"how long processed message ids are remembered" default:"24h" env:"LEADLINK_DEDUP_TTL"`

	AMQPURL      string `help:"AMQP URL for sales alerts and merge events (log only when empty)" env:"LEADLINK_AMQP_URL"`
	AMQPExchange string `help:"AMQP topic exchange" default:"leadlink.events" env:"LEADLINK_AMQP_EXCHANGE"`
}

func (p *PipelineFlags) analyzer() (nlu.Analyzer, error) {
	if p.NLUStub {
		log.Warn().Msg("Using the stub analyzer")
		return &nlu.Stub{}, nil
	}
	return nlu.NewClient(nlu.ClientConfig{BaseURL: p.NLUURL, Timeout: p.NLUTimeout})
}

// build wires the processor. The returned func closes the broker and cache connections.
func (p *PipelineFlags) build(ctx context.Context, st store.Store, retry store.RetryConfig) (*intake.Processor, func(), error) {
	analyzer, err := p.analyzer()
	if err != nil {
		return nil, nil, err
	}

	var (
		opts    []intake.Option
		closers []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if p.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: p.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", p.RedisAddr).Msg("Redis unreachable, deduplication will fail open")
		}
		closers = append(closers, func() { _ = client.Close() })
		opts = append(opts, intake.WithDeduplicator(intake.NewRedisDeduplicator(client, p.DedupTTL)))
		log.Info().Str("addr", p.RedisAddr).Msg("Inbound deduplication enabled")
	}

	if p.AMQPURL != "" {
		notifier, err := notify.DialAMQP(p.AMQPURL, p.AMQPExchange)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to connect to AMQP broker: %w", err)
		}
		closers = append(closers, func() {
			if err := notifier.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close AMQP notifier")
			}
		})
		opts = append(opts, intake.WithNotifier(notifier))
		log.Info().Str("exchange", p.AMQPExchange).Msg("Publishing events to AMQP")
	}

	processor := intake.NewProcessor(intake.ProcessorConfig{
		HistoryLimit:     p.HistoryLimit,
		MaxMessageLength: p.MaxMessageLength,
		Retry:            retry,
	}, st, analyzer, opts...)

	return processor, cleanup, nil
}
