package orm

import (
	"context"
	"database/sql"

	c "github.com/d0ngw/counters/common"
)

// OpTxFunc 在事务中处理的函数
type OpTxFunc func(tx *sql.Tx) (interface{}, error)

// Op 数据库操作接口,与sql.DB对应,封装了事务
type Op struct {
	pool         *Pool   //数据连接
	tx           *sql.Tx //事务
	txDone       bool    //事务是否结束
	rollbackOnly bool    //是否只回滚
	transDepth   int     //调用的深度
}

// DB sql.DB
func (p *Op) DB() *sql.DB {
	return p.pool.db
}

// PoolName name of pool
func (p *Op) PoolName() string {
	return p.pool.name
}

func (p *Op) close() {
	p.tx = nil
	p.rollbackOnly = false
	p.transDepth = 0
}

// 检查事务的状态
func (p *Op) checkTransStatus() error {
	if p.txDone {
		return sql.ErrTxDone
	}
	if p.tx == nil {
		return NewDBError(nil, "Not begin transaction")
	}
	return nil
}

func (p *Op) decrTransDepth() error {
	p.transDepth--
	if p.transDepth < 0 {
		return NewDBError(nil, "Too many invoke commit or rollback")
	}
	return nil
}

// 结束事务
func (p *Op) finishTrans() error {
	if err := p.checkTransStatus(); err != nil {
		return err
	}
	if err := p.decrTransDepth(); err != nil {
		return err
	}
	if p.transDepth > 0 {
		return nil
	}
	defer p.close()
	p.txDone = true
	if p.rollbackOnly {
		return p.tx.Rollback()
	}
	return p.tx.Commit()
}

// BeginTx 开始事务,支持简单的嵌套调用,如果已经开始了事务,则直接返回成功
func (p *Op) BeginTx(ctx context.Context) error {
	if p.tx != nil {
		p.transDepth++
		return nil
	}
	tx, err := p.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	p.tx = tx
	p.txDone = false
	p.transDepth++
	return nil
}

// Commit 提交事务
func (p *Op) Commit() error {
	return p.finishTrans()
}

// Rollback 回滚事务
func (p *Op) Rollback() error {
	p.SetRollbackOnly(true)
	return p.finishTrans()
}

// SetRollbackOnly 设置只回滚
func (p *Op) SetRollbackOnly(rollback bool) {
	p.rollbackOnly = rollback
}

// IsRollbackOnly 是否只回滚
func (p *Op) IsRollbackOnly() bool {
	return p.rollbackOnly
}

// DoInTrans 在事务中执行,operation返回错误时回滚
func (p *Op) DoInTrans(ctx context.Context, operation OpTxFunc) (rt interface{}, err error) {
	if err := p.BeginTx(ctx); err != nil {
		return nil, err
	}
	var succ = false
	defer func() {
		if !succ {
			p.SetRollbackOnly(true)
		}
		if transErr := p.finishTrans(); transErr != nil {
			c.Errorf("Finish transaction err:%v", transErr)
			rt = nil
			if err == nil {
				err = transErr
			}
		}
	}()
	rt, err = operation(p.tx)
	succ = err == nil
	return
}

// Exec 执行sql,在事务中时使用事务
func (p *Op) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if p.tx != nil {
		return p.tx.ExecContext(ctx, query, args...)
	}
	return p.DB().ExecContext(ctx, query, args...)
}

// QueryRow 查询一行,在事务中时使用事务
func (p *Op) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	if p.tx != nil {
		return p.tx.QueryRowContext(ctx, query, args...)
	}
	return p.DB().QueryRowContext(ctx, query, args...)
}

// Query 查询多行,在事务中时使用事务
func (p *Op) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	if p.tx != nil {
		return p.tx.QueryContext(ctx, query, args...)
	}
	return p.DB().QueryContext(ctx, query, args...)
}

// QueryInt64 查询单个整数值,如COUNT(*);没有结果时返回found=false
func (p *Op) QueryInt64(ctx context.Context, query string, args ...interface{}) (v int64, found bool, err error) {
	err = p.QueryRow(ctx, query, args...).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}
