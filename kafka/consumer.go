package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/IBM/sarama"
	c "github.com/d0ngw/counters/common"
	"github.com/pkg/errors"
)

// Consumer is a service consuming the topics with a consumer group
type Consumer struct {
	c.BaseService
	conf       *KafkaConfig
	handler    sarama.ConsumerGroupHandler
	group      sarama.ConsumerGroup
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewConsumer create Consumer
func NewConsumer(conf *KafkaConfig, handler sarama.ConsumerGroupHandler) *Consumer {
	return &Consumer{
		BaseService: c.BaseService{SName: "kafka-consumer"},
		conf:        conf,
		handler:     handler,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
	}
}

// Init implements Initable.Init
func (p *Consumer) Init() error {
	if len(p.conf.Topics) == 0 {
		return errors.New("no topic to consume")
	}
	if p.group != nil {
		return nil
	}
	group, err := sarama.NewConsumerGroup(p.conf.Brokers, p.conf.Group, newSaramaConfig(p.conf))
	if err != nil {
		return errors.Wrapf(err, "create consumer group %s fail", p.conf.Group)
	}
	p.group = group
	return nil
}

// Start implements Service.Start
func (p *Consumer) Start() bool {
	if p.group == nil {
		c.Errorf("%s is not inited", p.Name())
		return false
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.consume()
	}()
	go func() {
		defer p.wg.Done()
		for err := range p.group.Errors() {
			c.Errorf("consumer group %s error:%v", p.conf.Group, err)
		}
	}()
	c.Infof("start consume %v with group %s", p.conf.Topics, p.conf.Group)
	return true
}

func (p *Consumer) consume() {
	backoff := p.minBackoff
	for {
		// Consume在rebalance时返回,需要重新加入
		err := p.group.Consume(p.ctx, p.conf.Topics, p.handler)
		if errors.Is(err, sarama.ErrClosedConsumerGroup) || p.ctx.Err() != nil {
			return
		}
		if err == nil {
			backoff = p.minBackoff
			continue
		}
		c.Errorf("consume %v fail,retry after %v,err:%v", p.conf.Topics, backoff, err)
		select {
		case <-p.ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff, p.maxBackoff)
	}
}

// Stop implements Service.Stop
func (p *Consumer) Stop() bool {
	if p.cancel != nil {
		p.cancel()
	}
	if p.group == nil {
		return true
	}
	if err := p.group.Close(); err != nil {
		c.Errorf("close consumer group %s fail,err:%v", p.conf.Group, err)
	}
	p.wg.Wait()
	return true
}
