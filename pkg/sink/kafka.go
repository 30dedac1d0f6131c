package sink

import (
	"context"
	"crypto/tls"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/spez-io/spez/pkg/compression"
	"github.com/spez-io/spez/pkg/spezerrors"
)

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers" json:"brokers"`
	ClientID string   `yaml:"client_id" json:"client_id"`

	// Topic receives every table unless TopicMapping names one for it.
	// When Topic is empty the topic is TopicPrefix followed by the table
	// name.
	Topic        string            `yaml:"topic" json:"topic"`
	TopicPrefix  string            `yaml:"topic_prefix" json:"topic_prefix"`
	TopicMapping map[string]string `yaml:"topic_mapping" json:"topic_mapping"`

	ProducerAcks      string `yaml:"producer_acks" json:"producer_acks"` // all, 1, 0
	ProducerRetries   int    `yaml:"producer_retries" json:"producer_retries"`
	EnableIdempotence bool   `yaml:"enable_idempotence" json:"enable_idempotence"`
	// Compression is none, gzip, snappy, lz4 or zstd
	Compression string `yaml:"compression" json:"compression"`

	SecurityProtocol      string `yaml:"security_protocol" json:"security_protocol"`
	SASLMechanism         string `yaml:"sasl_mechanism" json:"sasl_mechanism"`
	SASLUsername          string `yaml:"sasl_username" json:"sasl_username"`
	SASLPassword          string `yaml:"sasl_password" json:"sasl_password"`
	TLSInsecureSkipVerify bool   `yaml:"tls_insecure_skip_verify" json:"tls_insecure_skip_verify"`
}

// KafkaSink produces one Kafka message per payload, keyed by table name so a
// table's rows land on one partition in order.
type KafkaSink struct {
	config   KafkaConfig
	producer sarama.SyncProducer
	logger   *zap.Logger

	topicMu sync.RWMutex
	topics  map[string]string

	produced atomic.Int64
	bytes    atomic.Int64
}

// NewKafkaSink connects a synchronous producer to the configured brokers.
func NewKafkaSink(config KafkaConfig, logger *zap.Logger) (*KafkaSink, error) {
	if len(config.Brokers) == 0 {
		return nil, spezerrors.New(spezerrors.ErrorTypeConfig, "kafka sink requires at least one broker")
	}
	producer, err := sarama.NewSyncProducer(config.Brokers, BuildSaramaConfig(config))
	if err != nil {
		return nil, spezerrors.Wrap(err, spezerrors.ErrorTypeConnection, "failed to create Kafka producer").
			WithDetail("brokers", strings.Join(config.Brokers, ","))
	}
	return NewKafkaSinkWithProducer(config, producer, logger), nil
}

// NewKafkaSinkWithProducer wraps an existing producer.
func NewKafkaSinkWithProducer(config KafkaConfig, producer sarama.SyncProducer, logger *zap.Logger) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	topics := make(map[string]string, len(config.TopicMapping))
	for table, topic := range config.TopicMapping {
		topics[table] = topic
	}
	return &KafkaSink{
		config:   config,
		producer: producer,
		logger:   logger.With(zap.String("component", "kafka_sink")),
		topics:   topics,
	}
}

func saramaCompression(name string) sarama.CompressionCodec {
	algo, err := compression.ParseAlgorithm(name)
	if err != nil {
		return sarama.CompressionNone
	}
	switch algo {
	case compression.Gzip:
		return sarama.CompressionGZIP
	case compression.Snappy, compression.S2:
		return sarama.CompressionSnappy
	case compression.LZ4:
		return sarama.CompressionLZ4
	case compression.Zstd:
		return sarama.CompressionZSTD
	default:
		return sarama.CompressionNone
	}
}

// BuildSaramaConfig translates config into a sarama producer configuration.
func BuildSaramaConfig(config KafkaConfig) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	if config.ClientID != "" {
		cfg.ClientID = config.ClientID
	}

	switch config.ProducerAcks {
	case "1":
		cfg.Producer.RequiredAcks = sarama.WaitForLocal
	case "0":
		cfg.Producer.RequiredAcks = sarama.NoResponse
	default:
		cfg.Producer.RequiredAcks = sarama.WaitForAll
	}

	if config.ProducerRetries > 0 {
		cfg.Producer.Retry.Max = config.ProducerRetries
	}
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Producer.Compression = saramaCompression(config.Compression)

	if config.EnableIdempotence {
		cfg.Producer.Idempotent = true
		cfg.Producer.RequiredAcks = sarama.WaitForAll
		cfg.Net.MaxOpenRequests = 1
	}

	if config.SecurityProtocol == "SASL_SSL" || config.SecurityProtocol == "SSL" {
		cfg.Net.TLS.Enable = true
		cfg.Net.TLS.Config = &tls.Config{
			InsecureSkipVerify: config.TLSInsecureSkipVerify, //nolint:gosec // opt-in via configuration
		}
	}

	if config.SASLMechanism != "" {
		cfg.Net.SASL.Enable = true
		cfg.Net.SASL.User = config.SASLUsername
		cfg.Net.SASL.Password = config.SASLPassword

		switch config.SASLMechanism {
		case "PLAIN":
			cfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		case "SCRAM-SHA-256":
			cfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		case "SCRAM-SHA-512":
			cfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		}
	}

	return cfg
}

// Name implements Sink.
func (k *KafkaSink) Name() string {
	return "kafka"
}

// TopicFor returns the topic a table's payloads are produced to.
func (k *KafkaSink) TopicFor(table string) string {
	k.topicMu.RLock()
	topic, ok := k.topics[table]
	k.topicMu.RUnlock()
	if ok {
		return topic
	}
	if k.config.Topic != "" {
		return k.config.Topic
	}

	topic = strings.ReplaceAll(k.config.TopicPrefix+table, ".", "_")

	k.topicMu.Lock()
	k.topics[table] = topic
	k.topicMu.Unlock()
	return topic
}

func (k *KafkaSink) buildMessage(msg Message) *sarama.ProducerMessage {
	headers := []sarama.RecordHeader{
		{Key: []byte("table"), Value: []byte(msg.Table)},
		{Key: []byte("seq"), Value: []byte(strconv.FormatInt(msg.Seq, 10))},
	}
	if msg.ContentType != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte("content-type"), Value: []byte(msg.ContentType)})
	}
	if msg.Fingerprint != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte("schema-fingerprint"), Value: []byte(msg.Fingerprint)})
	}

	return &sarama.ProducerMessage{
		Topic:     k.TopicFor(msg.Table),
		Key:       sarama.StringEncoder(msg.Table),
		Value:     sarama.ByteEncoder(msg.Payload),
		Headers:   headers,
		Timestamp: msg.Timestamp,
	}
}

// Write implements Sink. It blocks until the broker acknowledges the
// message.
func (k *KafkaSink) Write(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return spezerrors.Wrap(err, spezerrors.ErrorTypeTimeout, "context done before produce")
	}

	pm := k.buildMessage(msg)
	partition, offset, err := k.producer.SendMessage(pm)
	if err != nil {
		return spezerrors.Wrap(err, spezerrors.ErrorTypeSink, "failed to produce message").
			WithDetail("table", msg.Table).
			WithDetail("topic", pm.Topic)
	}

	k.produced.Add(1)
	k.bytes.Add(int64(len(msg.Payload)))
	k.logger.Debug("message produced",
		zap.String("topic", pm.Topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// Flush implements Sink. Writes are synchronous, so there is nothing to do.
func (k *KafkaSink) Flush(context.Context) error {
	return nil
}

// Produced returns the number of messages and payload bytes acknowledged.
func (k *KafkaSink) Produced() (messages, bytes int64) {
	return k.produced.Load(), k.bytes.Load()
}

// Close closes the producer.
func (k *KafkaSink) Close() error {
	if err := k.producer.Close(); err != nil {
		return spezerrors.Wrap(err, spezerrors.ErrorTypeSink, "failed to close Kafka producer")
	}
	messages, bytes := k.Produced()
	k.logger.Info("Kafka sink closed",
		zap.Int64("messages", messages),
		zap.Int64("bytes", bytes))
	return nil
}
