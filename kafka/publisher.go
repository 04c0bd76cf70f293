package kafka

import (
	"context"
	"sync"

	"github.com/IBM/sarama"
	c "github.com/d0ngw/counters/common"
	"github.com/d0ngw/counters/counter"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// NewSyncProducer create the producer partitioning with NewKafkaDefaultPartitioner
func NewSyncProducer(conf *KafkaConfig) (sarama.SyncProducer, error) {
	producer, err := sarama.NewSyncProducer(conf.Brokers, newSaramaConfig(conf))
	if err != nil {
		return nil, errors.Wrap(err, "create kafka producer fail")
	}
	return producer, nil
}

// WarningPublisher publish the NegativeResultWarning keyed by the entity,so the warnings of one entity keep their order.
// The warnings from Hook are queued and sent by a background goroutine,a full queue drops the warning.
type WarningPublisher struct {
	producer sarama.SyncProducer
	topic    string
	queue    chan *counter.NegativeResultWarning
	done     chan struct{}
	lock     sync.RWMutex
	closed   bool
	dropped  atomic.Int64
}

// NewWarningPublisher create WarningPublisher and start sending the queued warnings
func NewWarningPublisher(producer sarama.SyncProducer, topic string, queueSize int) *WarningPublisher {
	if queueSize <= 0 {
		queueSize = defaultWarningQueueSize
	}
	p := &WarningPublisher{
		producer: producer,
		topic:    topic,
		queue:    make(chan *counter.NegativeResultWarning, queueSize),
		done:     make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *WarningPublisher) run() {
	defer close(p.done)
	for warning := range p.queue {
		if err := p.Publish(context.Background(), warning); err != nil {
			c.Errorf("%v", err)
		}
	}
}

// Publish send the warning and wait the ack
func (p *WarningPublisher) Publish(ctx context.Context, warning *counter.NegativeResultWarning) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := c.JSON.Marshal(warning)
	if err != nil {
		return errors.Wrap(err, "marshal warning")
	}
	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(warning.EntityID),
		Value: sarama.ByteEncoder(data),
	})
	return errors.Wrapf(err, "publish warning of %s to %s", warning.EntityID, p.topic)
}

// Hook return the counter.NegativeHook queueing the warnings,it never blocks
func (p *WarningPublisher) Hook() counter.NegativeHook {
	return func(ctx context.Context, warning *counter.NegativeResultWarning) {
		p.lock.RLock()
		defer p.lock.RUnlock()
		if p.closed {
			c.Warnf("publisher closed,drop %v", warning)
			p.dropped.Inc()
			return
		}
		select {
		case p.queue <- warning:
		default:
			c.Warnf("warning queue of %s is full,drop %v", p.topic, warning)
			p.dropped.Inc()
		}
	}
}

// Dropped the count of the warnings not queued
func (p *WarningPublisher) Dropped() int64 {
	return p.dropped.Load()
}

// Close send the queued warnings and close the producer
func (p *WarningPublisher) Close() error {
	p.lock.Lock()
	if p.closed {
		p.lock.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.lock.Unlock()

	<-p.done
	return p.producer.Close()
}
