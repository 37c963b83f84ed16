package dispatch

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"aranyani/internal/pipeline"
)

// KafkaConfig holds broker connection settings
type KafkaConfig struct {
	BootstrapServers string
	SecurityProtocol string
	SASLMechanism    string
	SASLUsername     string
	SASLPassword     string
	Topic            string
	Acks             string
	CompressionType  string
}

// KafkaGateway publishes alert records to a broker topic for backends that
// ingest asynchronously. It waits for the delivery report of each record.
type KafkaGateway struct {
	producer *kafka.Producer
	topic    string
	wg       sync.WaitGroup
}

// NewKafkaGateway creates a producer-backed gateway
func NewKafkaGateway(config KafkaConfig) (*KafkaGateway, error) {
	if config.BootstrapServers == "" {
		return nil, fmt.Errorf("kafka bootstrap servers are required")
	}
	if config.Topic == "" {
		config.Topic = "animal-records"
	}
	if config.Acks == "" {
		config.Acks = "all"
	}

	cm := &kafka.ConfigMap{
		"bootstrap.servers":  config.BootstrapServers,
		"acks":               config.Acks,
		"enable.idempotence": true,
		"request.timeout.ms": 30000,
	}
	if config.CompressionType != "" {
		cm.SetKey("compression.type", config.CompressionType)
	}
	if config.SecurityProtocol != "" {
		cm.SetKey("security.protocol", config.SecurityProtocol)
	}
	if config.SASLMechanism != "" {
		cm.SetKey("sasl.mechanism", config.SASLMechanism)
		cm.SetKey("sasl.username", config.SASLUsername)
		cm.SetKey("sasl.password", config.SASLPassword)
	}

	p, err := kafka.NewProducer(cm)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	g := &KafkaGateway{
		producer: p,
		topic:    config.Topic,
	}

	g.wg.Add(1)
	go g.handleEvents()

	log.Printf("[Kafka] Producer ready (topic: %s, servers: %s)", config.Topic, config.BootstrapServers)
	return g, nil
}

// handleEvents logs producer-level events that are not delivery reports
func (g *KafkaGateway) handleEvents() {
	defer g.wg.Done()

	for e := range g.producer.Events() {
		switch ev := e.(type) {
		case kafka.Error:
			log.Printf("[Kafka] Producer error: %v", ev)
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				log.Printf("[Kafka] Delivery failed: %v", ev.TopicPartition.Error)
			}
		}
	}
}

// Name implements pipeline.Gateway
func (g *KafkaGateway) Name() string {
	return "kafka"
}

// Dispatch implements pipeline.Gateway
func (g *KafkaGateway) Dispatch(ctx context.Context, event *pipeline.AlertEvent) (pipeline.DispatchAck, error) {
	msg, err := newRecordMessage(g.topic, event)
	if err != nil {
		return pipeline.DispatchAck{}, err
	}

	delivery := make(chan kafka.Event, 1)
	if err := g.producer.Produce(msg, delivery); err != nil {
		return pipeline.DispatchAck{}, fmt.Errorf("%w: %v", pipeline.ErrDispatchFailure, err)
	}

	select {
	case <-ctx.Done():
		return pipeline.DispatchAck{}, fmt.Errorf("%w: delivery not confirmed: %v", pipeline.ErrDispatchFailure, ctx.Err())
	case e := <-delivery:
		m, ok := e.(*kafka.Message)
		if !ok {
			return pipeline.DispatchAck{}, fmt.Errorf("%w: unexpected delivery event %v", pipeline.ErrDispatchFailure, e)
		}
		if m.TopicPartition.Error != nil {
			return pipeline.DispatchAck{}, fmt.Errorf("%w: %v", pipeline.ErrDispatchFailure, m.TopicPartition.Error)
		}
		return pipeline.DispatchAck{
			Success:  true,
			RecordID: fmt.Sprintf("%s/%d@%v", g.topic, m.TopicPartition.Partition, m.TopicPartition.Offset),
			Message:  "delivered",
		}, nil
	}
}

// newRecordMessage keys records by node so one node's alerts stay ordered
func newRecordMessage(topic string, event *pipeline.AlertEvent) (*kafka.Message, error) {
	payload, err := encodeEvent(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}

	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(event.NodeID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "device-id", Value: []byte(event.NodeID)},
			{Key: "event_id", Value: []byte(event.ID.String())},
			{Key: "animal_type", Value: []byte(event.Label)},
		},
	}, nil
}

// Close flushes pending records and shuts the producer down
func (g *KafkaGateway) Close() error {
	if remaining := g.producer.Flush(10000); remaining > 0 {
		log.Printf("[Kafka] %d records still queued after flush", remaining)
	}
	g.producer.Close()
	g.wg.Wait()
	return nil
}

var _ pipeline.Gateway = (*KafkaGateway)(nil)
