package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"detectstream/internal/logger"
)

// KafkaConfig describes how change records are consumed.
type KafkaConfig struct {
	Brokers     []string
	GroupID     string
	PollTimeout time.Duration
	RetryPause  time.Duration
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaChannel implements Channel on a Kafka topic per resource.
type KafkaChannel struct {
	cfg       KafkaConfig
	logger    *logger.Logger
	newReader func(topic string) messageReader
}

func NewKafkaChannel(cfg KafkaConfig, logger *logger.Logger) (*KafkaChannel, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, errors.New("consumer group must not be empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	if cfg.RetryPause <= 0 {
		cfg.RetryPause = time.Second
	}

	c := &KafkaChannel{cfg: cfg, logger: logger}
	c.newReader = func(topic string) messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupID:     cfg.GroupID,
			Topic:       topic,
			StartOffset: kafka.LastOffset,
			MinBytes:    1,
			MaxBytes:    10e6,
		})
	}
	return c, nil
}

// Subscribe starts consuming the resource topic in the background.
func (c *KafkaChannel) Subscribe(ctx context.Context, resource string, filter Filter, handle Handler) (Subscription, error) {
	if strings.TrimSpace(resource) == "" {
		return nil, errors.New("resource must not be empty")
	}
	if handle == nil {
		return nil, errors.New("handler must not be nil")
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &kafkaSubscription{
		channel:  c,
		reader:   c.newReader(resource),
		resource: resource,
		filter:   filter,
		handle:   handle,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.run(subCtx)
	return s, nil
}

type kafkaSubscription struct {
	channel  *KafkaChannel
	reader   messageReader
	resource string
	filter   Filter
	handle   Handler
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
	err      error
}

func (s *kafkaSubscription) run(ctx context.Context) {
	defer close(s.done)

	log := s.channel.logger
	poll := s.channel.cfg.PollTimeout

	log.Info("Kafka consumer started for topic %s (group %s, brokers %s)",
		s.resource, s.channel.cfg.GroupID, strings.Join(s.channel.cfg.Brokers, ","))
	defer log.Info("Kafka consumer for topic %s stopped", s.resource)

	for {
		if ctx.Err() != nil {
			return
		}

		fetchCtx, cancel := context.WithTimeout(ctx, poll)
		msg, err := s.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				continue
			case ctx.Err() != nil:
				return
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrClosedPipe), errors.Is(err, kafka.ErrGroupClosed):
				return
			}
			log.Error("Kafka fetch from %s failed: %v", s.resource, err)
			if !sleepCtx(ctx, s.channel.cfg.RetryPause) {
				return
			}
			continue
		}

		s.deliver(msg)

		commitCtx, commitCancel := context.WithTimeout(ctx, poll)
		if err := s.reader.CommitMessages(commitCtx, msg); err != nil && ctx.Err() == nil {
			log.Error("Kafka commit on %s failed: %v", s.resource, err)
		}
		commitCancel()
	}
}

func (s *kafkaSubscription) deliver(msg kafka.Message) {
	var record ChangeRecord
	if err := json.Unmarshal(msg.Value, &record); err != nil {
		s.channel.logger.Warning("Undecodable message on %s at offset %d: %v", s.resource, msg.Offset, err)
		return
	}
	if record.Table != "" && record.Table != s.resource {
		return
	}
	if s.filter.SourceID != "" && sourceOf(record.Record) != s.filter.SourceID {
		return
	}
	s.handle(record)
}

// Unsubscribe stops the consumer and closes the reader.
func (s *kafkaSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		if err := s.reader.Close(); err != nil {
			s.err = fmt.Errorf("close reader: %w", err)
		}
	})
	return s.err
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
