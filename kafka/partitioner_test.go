package kafka

import (
	"testing"

	"github.com/IBM/sarama"
	c "github.com/d0ngw/counters/common"
	"github.com/stretchr/testify/assert"
)

func TestPartitioner(t *testing.T) {
	var partitionNums int32 = 3
	p := NewKafkaDefaultPartitioner("")
	assert.True(t, p.RequiresConsistency())

	for _, key := range []string{"aaa", "109", "account-9527", ""} {
		m := &sarama.ProducerMessage{Key: sarama.StringEncoder(key)}
		pn, err := p.Partition(m, partitionNums)
		assert.Nil(t, err)
		assert.Equal(t, kafkaAbs(c.JString(key).HashCode())%partitionNums, pn)
	}

	// "polygenelubricants".hashCode() == Integer.MIN_VALUE
	m := &sarama.ProducerMessage{Key: sarama.StringEncoder("polygenelubricants")}
	pn, err := p.Partition(m, 7)
	assert.Nil(t, err)
	assert.Equal(t, int32(0), pn)

	m = &sarama.ProducerMessage{Key: LongEncoder(1 << 40)}
	pn, err = p.Partition(m, partitionNums)
	assert.Nil(t, err)
	assert.Equal(t, int32(256)%partitionNums, pn)

	m = &sarama.ProducerMessage{Key: IntEncoder(-7)}
	pn, err = p.Partition(m, partitionNums)
	assert.Nil(t, err)
	assert.Equal(t, kafkaAbs(-7)%partitionNums, pn)

	m = &sarama.ProducerMessage{Key: sarama.ByteEncoder("aaa")}
	pn, err = p.Partition(m, partitionNums)
	assert.Nil(t, err)
	assert.True(t, pn >= 0 && pn < partitionNums)

	m = &sarama.ProducerMessage{}
	pn, err = p.Partition(m, partitionNums)
	assert.Nil(t, err)
	assert.True(t, pn >= 0 && pn < partitionNums)
}

func TestLongEncoder(t *testing.T) {
	b, err := LongEncoder(258).Encode()
	assert.Nil(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 1, 2}, b)
	assert.Equal(t, 8, LongEncoder(0).Length())

	b, err = IntEncoder(-1).Encode()
	assert.Nil(t, err)
	assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xff}, b)
	assert.Equal(t, 4, IntEncoder(0).Length())
}
