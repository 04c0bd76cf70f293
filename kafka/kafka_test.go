package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	c "github.com/d0ngw/counters/common"
	"github.com/d0ngw/counters/counter"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type fakeSession struct {
	ctx    context.Context
	lock   sync.Mutex
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32 { return nil }
func (s *fakeSession) MemberID() string           { return "member-1" }
func (s *fakeSession) GenerationID() int32        { return 1 }
func (s *fakeSession) MarkOffset(topic string, partition int32, offset int64, metadata string) {
}
func (s *fakeSession) Commit() {}
func (s *fakeSession) ResetOffset(topic string, partition int32, offset int64, metadata string) {
}
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, metadata string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.marked = append(s.marked, msg.Offset)
}
func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) markedOffsets() []int64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]int64(nil), s.marked...)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return "binlog" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return int64(len(c.messages)) }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func newClaim(values ...string) *fakeClaim {
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, len(values))}
	for i, v := range values {
		claim.messages <- &sarama.ConsumerMessage{Topic: "binlog", Offset: int64(i), Value: []byte(v)}
	}
	close(claim.messages)
	return claim
}

// flakyStore fails Add of field until fails is used up
type flakyStore struct {
	*counter.MemoryStore
	field string
	fails atomic.Int32
}

func (s *flakyStore) Add(ctx context.Context, entityID, field string, delta int64) (int64, error) {
	if field == s.field && s.fails.Dec() >= 0 {
		return 0, errors.New("connection reset")
	}
	return s.MemoryStore.Add(ctx, entityID, field, delta)
}

func newTestEngine(t *testing.T, store counter.Store) *counter.Engine {
	engine, err := counter.NewEngine(store, counter.AccountSchema)
	require.NoError(t, err)
	return engine
}

const (
	followInsert = `{"database":"mastodon","table":"follows","type":"INSERT","isDdl":false,
		"data":[{"id":"1","account_id":"100","target_account_id":"200"},{"id":"2","account_id":"101","target_account_id":"200"}]}`
	followDelete = `{"database":"mastodon","table":"follows","type":"DELETE","isDdl":false,
		"data":[{"id":"1","account_id":"100","target_account_id":"200"}]}`
	statusInsert = `{"database":"mastodon","table":"statuses","type":"INSERT",
		"data":[{"id":"10","account_id":"100","deleted_at":null},{"id":"11","account_id":"100","deleted_at":"2024-01-01 00:00:00"}]}`
	statusSoftDelete = `{"database":"mastodon","table":"statuses","type":"UPDATE",
		"data":[{"id":"10","account_id":"100","deleted_at":"2024-01-02 00:00:00"}],"old":[{"deleted_at":null}]}`
	statusUpdateText = `{"database":"mastodon","table":"statuses","type":"UPDATE",
		"data":[{"id":"10","account_id":"100","text":"b"}],"old":[{"text":"a"}]}`
	otherTable = `{"database":"mastodon","table":"favourites","type":"INSERT","data":[{"account_id":"100"}]}`
)

func readAll(t *testing.T, engine *counter.Engine, id string) counter.Fields {
	fields, err := engine.ReadAll(context.Background(), id)
	require.NoError(t, err)
	return fields
}

func TestRelationHandler(t *testing.T) {
	engine := newTestEngine(t, counter.NewMemoryStore(counter.AccountSchema))
	handler, err := NewRelationHandler(engine, RelationTables{Database: "mastodon"})
	require.NoError(t, err)
	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, handler.Setup(session))

	claim := newClaim(followInsert, followDelete, statusInsert, statusUpdateText, otherTable, "not json",
		`{"database":"other","table":"follows","type":"INSERT","data":[{"account_id":"1","target_account_id":"2"}]}`,
		`{"database":"mastodon","table":"follows","type":"INSERT","isDdl":true,"sql":"alter table follows"}`)
	require.NoError(t, handler.ConsumeClaim(session, claim))
	require.NoError(t, handler.Cleanup(session))

	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7}, session.markedOffsets())
	assert.Equal(t, int64(1), readAll(t, engine, "200")[counter.FollowersCount])
	assert.Equal(t, int64(0), readAll(t, engine, "100")[counter.FollowingCount])
	assert.Equal(t, int64(1), readAll(t, engine, "101")[counter.FollowingCount])
	assert.Equal(t, int64(1), readAll(t, engine, "100")[counter.StatusesCount])
	assert.Equal(t, int64(0), readAll(t, engine, "1")[counter.FollowingCount])

	require.NoError(t, handler.ConsumeClaim(session, newClaim(statusSoftDelete)))
	assert.Equal(t, int64(0), readAll(t, engine, "100")[counter.StatusesCount])
}

func TestRelationHandlerRetry(t *testing.T) {
	store := &flakyStore{MemoryStore: counter.NewMemoryStore(counter.AccountSchema), field: counter.FollowingCount}
	store.fails.Store(2)
	engine := newTestEngine(t, store)
	handler, err := NewRelationHandler(engine, RelationTables{})
	require.NoError(t, err)
	handler.minBackoff = time.Millisecond
	handler.maxBackoff = time.Millisecond

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, handler.ConsumeClaim(session, newClaim(followDelete)))
	assert.Equal(t, []int64{0}, session.markedOffsets())
	// followers_count is applied once even though following_count was retried
	assert.Equal(t, int64(-1), readAll(t, engine, "200")[counter.FollowersCount])
	assert.Equal(t, int64(-1), readAll(t, engine, "100")[counter.FollowingCount])
}

func TestRelationHandlerCanceled(t *testing.T) {
	store := &flakyStore{MemoryStore: counter.NewMemoryStore(counter.AccountSchema), field: counter.FollowersCount}
	store.fails.Store(1 << 30)
	engine := newTestEngine(t, store)
	handler, err := NewRelationHandler(engine, RelationTables{})
	require.NoError(t, err)
	handler.minBackoff = time.Millisecond
	handler.maxBackoff = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	session := &fakeSession{ctx: ctx}
	err = handler.ConsumeClaim(session, newClaim(followInsert))
	assert.True(t, errors.Is(err, counter.ErrStoreUnavailable))
	assert.Empty(t, session.markedOffsets())
}

func TestToCanalMessage(t *testing.T) {
	msg, err := ToCanalMessage(&sarama.ConsumerMessage{Value: []byte(
		`{"id":9,"table":"follows","type":"INSERT","es":1700000000000,"data":[{"account_id":123456789012345678,"target_account_id":"7","flag":true}]}`)})
	require.NoError(t, err)
	assert.Equal(t, int64(9), msg.ID)
	assert.Equal(t, INSERT, msg.Type)
	id, ok := columnString(msg.Data[0], "account_id")
	assert.True(t, ok)
	assert.Equal(t, "123456789012345678", id)
	flag, ok := columnString(msg.Data[0], "flag")
	assert.True(t, ok)
	assert.Equal(t, "true", flag)
	_, ok = columnString(msg.Data[0], "missing")
	assert.False(t, ok)
	assert.Nil(t, msg.OldRow(0))

	_, err = ToCanalMessage(&sarama.ConsumerMessage{Value: []byte("{")})
	assert.Error(t, err)
}

func TestKafkaConfig(t *testing.T) {
	assert.Error(t, (&KafkaConfig{}).Parse())
	assert.Error(t, (&KafkaConfig{Brokers: []string{"127.0.0.1:9092"}, Topics: []string{"binlog"}}).Parse())
	assert.Error(t, (&KafkaConfig{Brokers: []string{"127.0.0.1:9092"}, Version: "x.y"}).Parse())

	conf := &KafkaConfig{Brokers: []string{"127.0.0.1:9092"}, Group: "counter", Topics: []string{"binlog"}, Version: "2.8.0", Oldest: true}
	require.NoError(t, conf.Parse())
	assert.Equal(t, "follows", conf.Tables.Follows)
	assert.Equal(t, "target_account_id", conf.Tables.FollowsTarget)
	assert.Equal(t, "deleted_at", conf.Tables.StatusesDeleted)

	cfg := newSaramaConfig(conf)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, sarama.OffsetOldest, cfg.Consumer.Offsets.Initial)
	assert.Equal(t, 10*time.Second, cfg.Consumer.Group.Session.Timeout)
	assert.Equal(t, sarama.V2_8_0_0, cfg.Version)
	assert.True(t, cfg.Producer.Return.Successes)

	content := `
kafka:
  brokers: ["k1:9092","k2:9092"]
  group: counter
  topics: [binlog]
  tables:
    database: mastodon
`
	var loaded struct {
		Kafka *KafkaConfig `yaml:"kafka"`
	}
	require.NoError(t, c.LoadYAML([]byte(content), &loaded))
	require.NoError(t, loaded.Kafka.Parse())
	assert.Equal(t, "mastodon", loaded.Kafka.Tables.Database)
	assert.Equal(t, "statuses", loaded.Kafka.Tables.Statuses)
}

func TestWarningPublisher(t *testing.T) {
	conf := &KafkaConfig{Brokers: []string{"127.0.0.1:9092"}}
	require.NoError(t, conf.Parse())
	assert.Equal(t, defaultWarningQueueSize, conf.WarningQueueSize)
	producer := mocks.NewSyncProducer(t, newSaramaConfig(conf))
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, _ := msg.Key.Encode()
		if string(key) != "100" || msg.Topic != "counter-warning" {
			return errors.Errorf("unexpected message %s/%s", msg.Topic, key)
		}
		value, _ := msg.Value.Encode()
		var warning counter.NegativeResultWarning
		if err := c.JSON.Unmarshal(value, &warning); err != nil {
			return err
		}
		if warning.Value != -1 || warning.Field != counter.FollowersCount {
			return errors.Errorf("unexpected warning %v", warning)
		}
		return nil
	})

	publisher := NewWarningPublisher(producer, "counter-warning", conf.WarningQueueSize)
	engine, err := counter.NewEngine(counter.NewMemoryStore(counter.AccountSchema), counter.AccountSchema,
		counter.WithNegativeHook(publisher.Hook()))
	require.NoError(t, err)

	v, err := engine.DecrementOne(context.Background(), "100", counter.FollowersCount)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), v)
	// Close发送队列中的告警
	require.NoError(t, publisher.Close())
	require.NoError(t, publisher.Close())
	assert.Equal(t, int64(0), publisher.Dropped())

	// 关闭后的告警被丢弃
	_, err = engine.DecrementOne(context.Background(), "100", counter.FollowersCount)
	require.NoError(t, err)
	assert.Equal(t, int64(1), publisher.Dropped())
}

func newTestProducerConfig(t *testing.T) *sarama.Config {
	conf := &KafkaConfig{Brokers: []string{"127.0.0.1:9092"}}
	require.NoError(t, conf.Parse())
	return newSaramaConfig(conf)
}

func TestWarningPublisherFail(t *testing.T) {
	producer := mocks.NewSyncProducer(t, newTestProducerConfig(t))
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	publisher := NewWarningPublisher(producer, "counter-warning", 1)
	err := publisher.Publish(context.Background(), &counter.NegativeResultWarning{EntityID: "100", Field: counter.FollowersCount, Delta: -1, Value: -2})
	assert.True(t, errors.Is(err, sarama.ErrOutOfBrokers))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, publisher.Publish(ctx, &counter.NegativeResultWarning{EntityID: "100"}))
	require.NoError(t, publisher.Close())
}

// stuckProducer blocks every send until release is closed
type stuckProducer struct {
	*mocks.SyncProducer
	release chan struct{}
}

func (p *stuckProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	<-p.release
	return p.SyncProducer.SendMessage(msg)
}

// 发送阻塞时减计数只受存储超时约束,队列满时丢弃告警
func TestWarningPublisherNotBlocking(t *testing.T) {
	mock := mocks.NewSyncProducer(t, newTestProducerConfig(t))
	mock.ExpectSendMessageAndSucceed()
	mock.ExpectSendMessageAndSucceed()
	producer := &stuckProducer{SyncProducer: mock, release: make(chan struct{})}
	publisher := NewWarningPublisher(producer, "counter-warning", 1)
	engine, err := counter.NewEngine(counter.NewMemoryStore(counter.AccountSchema), counter.AccountSchema,
		counter.WithTimeout(20*time.Millisecond), counter.WithNegativeHook(publisher.Hook()))
	require.NoError(t, err)
	ctx := context.Background()

	st := time.Now()
	_, err = engine.DecrementOne(ctx, "100", counter.FollowersCount)
	require.NoError(t, err)
	// 第一条告警已被取出,阻塞在发送中
	require.Eventually(t, func() bool { return len(publisher.queue) == 0 }, time.Second, time.Millisecond)
	for i := 0; i < 2; i++ {
		_, err = engine.DecrementOne(ctx, "100", counter.FollowersCount)
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(st), 500*time.Millisecond)
	assert.Equal(t, int64(1), publisher.Dropped())

	close(producer.release)
	require.NoError(t, publisher.Close())
}

type fakeGroup struct {
	errs     chan error
	closed   atomic.Bool
	consumed atomic.Int32
	failures atomic.Int32
}

func (g *fakeGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	g.consumed.Inc()
	if g.failures.Dec() >= 0 {
		return sarama.ErrOutOfBrokers
	}
	<-ctx.Done()
	return nil
}
func (g *fakeGroup) Errors() <-chan error { return g.errs }
func (g *fakeGroup) Close() error {
	if g.closed.CompareAndSwap(false, true) {
		close(g.errs)
	}
	return nil
}
func (g *fakeGroup) Pause(partitions map[string][]int32)  {}
func (g *fakeGroup) Resume(partitions map[string][]int32) {}
func (g *fakeGroup) PauseAll()                            {}
func (g *fakeGroup) ResumeAll()                           {}

func TestConsumer(t *testing.T) {
	conf := &KafkaConfig{Brokers: []string{"127.0.0.1:9092"}, Group: "counter"}
	require.NoError(t, conf.Parse())
	assert.Error(t, NewConsumer(conf, nil).Init())

	conf.Topics = []string{"binlog"}
	group := &fakeGroup{errs: make(chan error, 1)}
	handler, err := NewRelationHandler(newTestEngine(t, counter.NewMemoryStore(counter.AccountSchema)), conf.Tables)
	require.NoError(t, err)
	consumer := NewConsumer(conf, handler)
	consumer.group = group

	services := c.NewServices(consumer)
	require.True(t, services.Init())
	require.True(t, services.Start())
	group.errs <- errors.New("broker gone")
	assert.Eventually(t, func() bool { return group.consumed.Load() == 1 }, time.Second, 10*time.Millisecond)
	require.True(t, services.Stop())
	assert.True(t, group.closed.Load())
}

// Consume持续失败时按退避间隔重试
func TestConsumerBackoff(t *testing.T) {
	conf := &KafkaConfig{Brokers: []string{"127.0.0.1:9092"}, Group: "counter", Topics: []string{"binlog"}}
	require.NoError(t, conf.Parse())
	group := &fakeGroup{errs: make(chan error, 1)}
	group.failures.Store(3)
	handler, err := NewRelationHandler(newTestEngine(t, counter.NewMemoryStore(counter.AccountSchema)), conf.Tables)
	require.NoError(t, err)
	consumer := NewConsumer(conf, handler)
	consumer.group = group
	consumer.minBackoff = 20 * time.Millisecond
	consumer.maxBackoff = 40 * time.Millisecond

	st := time.Now()
	require.True(t, consumer.Start())
	assert.Eventually(t, func() bool { return group.consumed.Load() == 4 }, 2*time.Second, time.Millisecond)
	// 20ms+40ms+40ms
	assert.GreaterOrEqual(t, time.Since(st), 100*time.Millisecond)
	require.True(t, consumer.Stop())
	assert.Equal(t, int32(4), group.consumed.Load())
}

func TestNewRelationHandler(t *testing.T) {
	_, err := NewRelationHandler(nil, RelationTables{})
	assert.Error(t, err)

	assert.Equal(t, 200*time.Millisecond, nextBackoff(100*time.Millisecond, time.Second))
	assert.Equal(t, time.Second, nextBackoff(800*time.Millisecond, time.Second))
}
