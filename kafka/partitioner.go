// Package kafka 消费账号关系的binlog驱动计数器,并提供和Java兼容的分区算法
package kafka

import (
	"encoding/binary"

	"github.com/IBM/sarama"
	c "github.com/d0ngw/counters/common"
)

// LongEncoder encode the int64 key like org.apache.kafka.common.serialization.LongSerializer
type LongEncoder int64

// Encode implements sarama.Encoder
func (l LongEncoder) Encode() ([]byte, error) {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(l))
	return b, nil
}

// Length implements sarama.Encoder
func (l LongEncoder) Length() int {
	return 8
}

// IntEncoder encode the int32 key like org.apache.kafka.common.serialization.IntegerSerializer
type IntEncoder int32

// Encode implements sarama.Encoder
func (i IntEncoder) Encode() ([]byte, error) {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(i))
	return b, nil
}

// Length implements sarama.Encoder
func (i IntEncoder) Length() int {
	return 4
}

// kafkaAbs 是Kafka自己实现的求绝对值的方式
func kafkaAbs(n int32) int32 {
	return n & 0x7fffffff
}

type kafkaDefaultPartitioner struct {
	hashPartitioner sarama.Partitioner
}

// NewKafkaDefaultPartitioner 创建一个部分兼容kafka.producer.DefaultPartitioner的分区算法
//
// 1) key是string,int32和int64,使用kafka.producer.DefaultPartitioner的算法,即使用java.lang.Object.hashcode做hash取摸
//
// 2) key是其他类型,使用sarama.NewHashPartitioner的算法
func NewKafkaDefaultPartitioner(topic string) sarama.Partitioner {
	return &kafkaDefaultPartitioner{hashPartitioner: sarama.NewHashPartitioner(topic)}
}

func (p *kafkaDefaultPartitioner) RequiresConsistency() bool {
	return true
}

func (p *kafkaDefaultPartitioner) Partition(message *sarama.ProducerMessage, numPartitions int32) (int32, error) {
	var jt c.JTypeCompatible
	switch v := message.Key.(type) {
	case sarama.StringEncoder:
		jt = c.JString(v)
	case IntEncoder:
		jt = c.JInt(v)
	case LongEncoder:
		jt = c.JLong(v)
	}
	if jt == nil {
		return p.hashPartitioner.Partition(message, numPartitions)
	}
	return kafkaAbs(jt.HashCode()) % numPartitions, nil
}
