package kafka

import (
	"time"

	"github.com/IBM/sarama"
	"github.com/pkg/errors"
)

const defaultWarningQueueSize = 1024

// KafkaConfig kafka配置
type KafkaConfig struct {
	Brokers             []string       `yaml:"brokers"`
	Version             string         `yaml:"version"`
	ClientID            string         `yaml:"client_id"`
	Group               string         `yaml:"group"`
	Topics              []string       `yaml:"topics"` //canal binlog topics
	Oldest              bool           `yaml:"oldest"` //没有offset时是否从最早的消息开始消费
	SessionTimeoutMs    int            `yaml:"session_timeout_ms"`
	HeartbeatIntervalMs int            `yaml:"heartbeat_interval_ms"`
	WarningTopic        string         `yaml:"warning_topic"`      //发布负数告警的topic,为空不发布
	WarningQueueSize    int            `yaml:"warning_queue_size"` //待发布告警的队列长度,队列满时丢弃
	Tables              RelationTables `yaml:"tables"`

	version sarama.KafkaVersion
}

// Parse implements Configurer
func (p *KafkaConfig) Parse() error {
	if len(p.Brokers) == 0 {
		return errors.New("no kafka brokers")
	}
	if len(p.Topics) > 0 && p.Group == "" {
		return errors.New("kafka consumer group must be set")
	}
	if p.ClientID == "" {
		p.ClientID = "counterd"
	}
	p.version = sarama.DefaultVersion
	if p.Version != "" {
		v, err := sarama.ParseKafkaVersion(p.Version)
		if err != nil {
			return errors.Wrapf(err, "invalid kafka version %s", p.Version)
		}
		p.version = v
	}
	if p.SessionTimeoutMs <= 0 {
		p.SessionTimeoutMs = 10000
	}
	if p.HeartbeatIntervalMs <= 0 {
		p.HeartbeatIntervalMs = 3000
	}
	if p.WarningQueueSize <= 0 {
		p.WarningQueueSize = defaultWarningQueueSize
	}
	return p.Tables.Parse()
}

// newSaramaConfig 统一初始化sarama.Config
func newSaramaConfig(conf *KafkaConfig) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = conf.ClientID
	cfg.Version = conf.version
	if cfg.Version == (sarama.KafkaVersion{}) {
		cfg.Version = sarama.DefaultVersion
	}

	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	if conf.Oldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	cfg.Consumer.Group.Session.Timeout = time.Duration(conf.SessionTimeoutMs) * time.Millisecond
	cfg.Consumer.Group.Heartbeat.Interval = time.Duration(conf.HeartbeatIntervalMs) * time.Millisecond

	cfg.Producer.Partitioner = NewKafkaDefaultPartitioner
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	return cfg
}
