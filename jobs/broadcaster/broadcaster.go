package broadcaster

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/IBM/sarama"

	"tradecore/infra/queue"
	"tradecore/pkg/logger"
	"tradecore/service"
)

// BatchSize caps the ticks sent in one producer call.
const BatchSize = 1000

// Broadcaster publishes the engine's ticks to Kafka. Delivery is at least
// once: a failed chunk is retried whole.
type Broadcaster struct {
	producer sarama.SyncProducer
	topic    string
	ticks    *queue.Queue[service.Tick]
	logger   *logger.Logger
}

// NewProducer dials a synchronous producer that waits for all replicas.
func NewProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	return sarama.NewSyncProducer(brokers, cfg)
}

func New(producer sarama.SyncProducer, topic string, ticks *queue.Queue[service.Tick], lg *logger.Logger) *Broadcaster {
	return &Broadcaster{
		producer: producer,
		topic:    topic,
		ticks:    ticks,
		logger:   lg.WithFields(logger.NewField("job", "broadcaster")),
	}
}

// Run drains the tick queue until ctx is done.
func (b *Broadcaster) Run(ctx context.Context, poll time.Duration) {
	b.logger.Info("broadcaster started", logger.NewField("topic", b.topic))
	queue.Consume(ctx, b.ticks, BatchSize, poll, b.publish)
}

func (b *Broadcaster) publish(_ context.Context, ticks []service.Tick) error {
	msgs := make([]*sarama.ProducerMessage, 0, len(ticks))
	for _, t := range ticks {
		payload, err := json.Marshal(t)
		if err != nil {
			return err
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: b.topic,
			Key:   sarama.StringEncoder(strconv.FormatInt(t.SequenceID, 10)),
			Value: sarama.ByteEncoder(payload),
		})
	}
	if err := b.producer.SendMessages(msgs); err != nil {
		b.logger.Warn("tick publish failed, will retry",
			logger.NewField("ticks", len(ticks)),
			logger.NewField("reason", err.Error()))
		return err
	}
	return nil
}

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}
