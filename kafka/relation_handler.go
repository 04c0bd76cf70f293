package kafka

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	c "github.com/d0ngw/counters/common"
	"github.com/d0ngw/counters/counter"
	"github.com/pkg/errors"
)

// RelationTables names the binlog tables and columns driving the counters
type RelationTables struct {
	Database        string `yaml:"database"` //为空时不检查库名
	Follows         string `yaml:"follows"`
	FollowsAccount  string `yaml:"follows_account"`
	FollowsTarget   string `yaml:"follows_target"`
	Statuses        string `yaml:"statuses"`
	StatusesAccount string `yaml:"statuses_account"`
	StatusesDeleted string `yaml:"statuses_deleted"`
}

// Parse implements Configurer
func (p *RelationTables) Parse() error {
	setDefault(&p.Follows, "follows")
	setDefault(&p.FollowsAccount, "account_id")
	setDefault(&p.FollowsTarget, "target_account_id")
	setDefault(&p.Statuses, "statuses")
	setDefault(&p.StatusesAccount, "account_id")
	setDefault(&p.StatusesDeleted, "deleted_at")
	return nil
}

func setDefault(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

// counterOp is one counter change derived from a binlog row
type counterOp struct {
	entityID string
	field    string
	delta    int64
}

// RelationHandler implements sarama.ConsumerGroupHandler,it applies the changes of follows and statuses to the counters.
// The offset of a message is marked only after all of its changes are applied.
type RelationHandler struct {
	engine     *counter.Engine
	tables     RelationTables
	minBackoff time.Duration
	maxBackoff time.Duration
}

// 存储或kafka失败时的重试间隔
const (
	defaultMinBackoff = 100 * time.Millisecond
	defaultMaxBackoff = 5 * time.Second
)

// nextBackoff double the backoff up to max
func nextBackoff(backoff, max time.Duration) time.Duration {
	backoff *= 2
	if backoff > max {
		backoff = max
	}
	return backoff
}

// NewRelationHandler create RelationHandler
func NewRelationHandler(engine *counter.Engine, tables RelationTables) (*RelationHandler, error) {
	if engine == nil {
		return nil, errors.New("no counter engine")
	}
	if err := tables.Parse(); err != nil {
		return nil, err
	}
	return &RelationHandler{engine: engine, tables: tables, minBackoff: defaultMinBackoff, maxBackoff: defaultMaxBackoff}, nil
}

// Setup implements sarama.ConsumerGroupHandler
func (p *RelationHandler) Setup(session sarama.ConsumerGroupSession) error {
	c.Infof("relation consumer setup,member:%s,generation:%d", session.MemberID(), session.GenerationID())
	return nil
}

// Cleanup implements sarama.ConsumerGroupHandler
func (p *RelationHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	c.Infof("relation consumer cleanup,member:%s", session.MemberID())
	return nil
}

// ConsumeClaim implements sarama.ConsumerGroupHandler
func (p *RelationHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := p.handle(session.Context(), msg); err != nil {
				// 未标记offset,rebalance后会重新消费
				c.Errorf("stop claim %s/%d at offset %d,err:%v", claim.Topic(), claim.Partition(), msg.Offset, err)
				return err
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// handle apply all changes of msg,a store failure is retried with backoff until ctx is done.
// Changes already applied are not applied again.
func (p *RelationHandler) handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	canalMsg, err := ToCanalMessage(msg)
	if err != nil {
		c.Warnf("skip message,err:%v", err)
		return nil
	}
	ops := p.ops(canalMsg)
	backoff := p.minBackoff
	for i := 0; i < len(ops); {
		err := p.apply(ctx, ops[i])
		if err == nil {
			i++
			continue
		}
		if counter.IsValidationError(err) {
			c.Warnf("skip %s of %s,err:%v", ops[i].field, ops[i].entityID, err)
			i++
			continue
		}
		c.Errorf("apply %s %+d to %s fail,retry after %v,err:%v", ops[i].field, ops[i].delta, ops[i].entityID, backoff, err)
		select {
		case <-ctx.Done():
			return errors.Wrapf(err, "message %s/%d/%d is not finished", msg.Topic, msg.Partition, msg.Offset)
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff, p.maxBackoff)
	}
	return nil
}

func (p *RelationHandler) apply(ctx context.Context, op counterOp) (err error) {
	if op.delta > 0 {
		_, err = p.engine.Increment(ctx, op.entityID, op.field, op.delta)
	} else {
		_, err = p.engine.Decrement(ctx, op.entityID, op.field, -op.delta)
	}
	return
}

// ops derive the counter changes of the message
func (p *RelationHandler) ops(msg *CanalMessage) []counterOp {
	if msg.IsDDL || (p.tables.Database != "" && msg.Database != p.tables.Database) {
		return nil
	}
	var ops []counterOp
	switch msg.Table {
	case p.tables.Follows:
		var delta int64
		switch msg.Type {
		case INSERT:
			delta = 1
		case DELETE:
			delta = -1
		default:
			return nil
		}
		for _, row := range msg.Data {
			account, ok1 := columnString(row, p.tables.FollowsAccount)
			target, ok2 := columnString(row, p.tables.FollowsTarget)
			if !ok1 || !ok2 {
				c.Warnf("skip follows row without account,%v", row)
				continue
			}
			ops = append(ops,
				counterOp{entityID: target, field: counter.FollowersCount, delta: delta},
				counterOp{entityID: account, field: counter.FollowingCount, delta: delta})
		}
	case p.tables.Statuses:
		for i, row := range msg.Data {
			account, ok := columnString(row, p.tables.StatusesAccount)
			if !ok {
				c.Warnf("skip statuses row without account,%v", row)
				continue
			}
			if delta := p.statusDelta(msg.Type, row, msg.OldRow(i)); delta != 0 {
				ops = append(ops, counterOp{entityID: account, field: counter.StatusesCount, delta: delta})
			}
		}
	}
	return ops
}

// statusDelta count the statuses not soft deleted
func (p *RelationHandler) statusDelta(typ string, row, old map[string]interface{}) int64 {
	_, deleted := columnString(row, p.tables.StatusesDeleted)
	switch typ {
	case INSERT:
		if !deleted {
			return 1
		}
	case DELETE:
		if !deleted {
			return -1
		}
	case UPDATE:
		if _, changed := old[p.tables.StatusesDeleted]; !changed {
			return 0
		}
		_, wasDeleted := columnString(old, p.tables.StatusesDeleted)
		if wasDeleted && !deleted {
			return 1
		}
		if !wasDeleted && deleted {
			return -1
		}
	}
	return 0
}
