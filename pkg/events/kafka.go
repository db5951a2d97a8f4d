// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"

	"github.com/LeeDigitalWorks/vospace/pkg/logger"
)

var (
	kafkaCodecs = map[string]sarama.CompressionCodec{
		"none": sarama.CompressionNone,
		"gzip": sarama.CompressionGZIP,
		"lz4":  sarama.CompressionLZ4,
		"zstd": sarama.CompressionZSTD,
	}
	kafkaAcks = map[int]sarama.RequiredAcks{
		0:  sarama.NoResponse,
		-1: sarama.WaitForAll,
	}
	scramHashes = map[string]scram.HashGeneratorFcn{
		sarama.SASLTypeSCRAMSHA256: scram.SHA256,
		sarama.SASLTypeSCRAMSHA512: scram.SHA512,
	}
)

// KafkaPublisher sends job events to a single topic, keyed by owner.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher dials cfg.Brokers with a synchronous producer.
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one Kafka broker is required")
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultConfig().Kafka.Topic
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("kafka producer creation failed: %w", err)
	}
	logger.Info().Strs("brokers", cfg.Brokers).Str("topic", topic).
		Msg("job events will be published to kafka")
	return NewKafkaPublisherWithProducer(producer, topic), nil
}

// NewKafkaPublisherWithProducer wraps producer; tests pass a sarama mock.
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func saramaConfig(cfg KafkaConfig) *sarama.Config {
	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	// owner-keyed messages land on one partition, so a user's job events stay ordered
	sc.Producer.Partitioner = sarama.NewHashPartitioner

	sc.Producer.RequiredAcks = sarama.WaitForLocal
	if acks, ok := kafkaAcks[cfg.RequiredAcks]; ok {
		sc.Producer.RequiredAcks = acks
	}
	sc.Producer.Compression = sarama.CompressionSnappy
	if codec, ok := kafkaCodecs[cfg.Compression]; ok {
		sc.Producer.Compression = codec
	}

	if cfg.BatchSize > 0 {
		sc.Producer.Flush.MaxMessages = cfg.BatchSize
	}
	if cfg.BatchTimeout > 0 {
		sc.Producer.Flush.Frequency = cfg.BatchTimeout
	}
	if d := cfg.WriteTimeout; d > 0 {
		sc.Producer.Timeout = d
		sc.Net.ReadTimeout, sc.Net.WriteTimeout = d, d
	}

	if cfg.TLS {
		sc.Net.TLS.Enable = true
		sc.Net.TLS.Config = &tls.Config{InsecureSkipVerify: cfg.TLSSkipVerify}
	}
	applySASL(sc, cfg)
	return sc
}

func applySASL(sc *sarama.Config, cfg KafkaConfig) {
	if cfg.SASLMechanism == "" {
		return
	}
	sc.Net.SASL.Enable = true
	sc.Net.SASL.User, sc.Net.SASL.Password = cfg.SASLUsername, cfg.SASLPassword

	hash, ok := scramHashes[cfg.SASLMechanism]
	if !ok {
		sc.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		return
	}
	sc.Net.SASL.Mechanism = sarama.SASLMechanism(cfg.SASLMechanism)
	sc.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
		return &scramClient{hash: hash}
	}
}

func (p *KafkaPublisher) Name() string { return "kafka" }

// Publish writes one message and waits for the broker acknowledgement.
func (p *KafkaPublisher) Publish(_ context.Context, owner string, payload []byte) error {
	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(owner),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	logger.Debug().Str("owner", owner).Int32("partition", partition).Int64("offset", offset).
		Msg("job event sent to kafka")
	return nil
}

func (p *KafkaPublisher) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

// scramClient adapts xdg-go/scram to sarama.SCRAMClient.
type scramClient struct {
	hash scram.HashGeneratorFcn
	conv *scram.ClientConversation
}

func (c *scramClient) Begin(user, password, authzID string) error {
	cl, err := c.hash.NewClient(user, password, authzID)
	if err != nil {
		return err
	}
	c.conv = cl.NewConversation()
	return nil
}

func (c *scramClient) Step(challenge string) (string, error) { return c.conv.Step(challenge) }

func (c *scramClient) Done() bool { return c.conv.Done() }
