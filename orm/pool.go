package orm

import (
	"database/sql"
	"fmt"
)

// PoolFunc 根据配置创建连接池
type PoolFunc func(config *DBConfig) (*Pool, error)

// Pool 数据库连接池
type Pool struct {
	name string
	db   *sql.DB
}

// NewPool create pool with name from db
func NewPool(name string, db *sql.DB) *Pool {
	return &Pool{name: name, db: db}
}

// Name of the pool
func (p *Pool) Name() string {
	return p.name
}

// NewOp create Op
func (p *Pool) NewOp() *Op {
	return &Op{pool: p}
}

// Close the pool
func (p *Pool) Close() error {
	return p.db.Close()
}

// OpCreator Op
type OpCreator interface {
	// NewOp create a new Op
	NewOp() (*Op, error)
}

// DBService is the service that supply Op
type DBService interface {
	OpCreator
	Init() error
}

// SimpleDBService implements DBService interface with one pool
type SimpleDBService struct {
	Config   DBConfigurer
	poolFunc PoolFunc
	pool     *Pool
}

// NewSimpleDBService build simple db service
func NewSimpleDBService(config DBConfigurer, poolFunc PoolFunc) *SimpleDBService {
	return &SimpleDBService{Config: config, poolFunc: poolFunc}
}

// NewSimpleDBServiceWithPool build simple db service with an existing pool
func NewSimpleDBServiceWithPool(pool *Pool) *SimpleDBService {
	return &SimpleDBService{pool: pool}
}

// Init implements Initable.Init()
func (p *SimpleDBService) Init() error {
	if p.pool != nil {
		return nil
	}
	if p.poolFunc == nil {
		return fmt.Errorf("no pool func")
	}
	if p.Config == nil {
		return fmt.Errorf("no db config")
	}

	pool, err := p.poolFunc(p.Config.DBConfig())
	if err != nil {
		return err
	}
	p.pool = pool
	return nil
}

// NewOp implements OpCreator.NewOp()
func (p *SimpleDBService) NewOp() (*Op, error) {
	if p.pool == nil {
		return nil, fmt.Errorf("please init db pool")
	}
	return p.pool.NewOp(), nil
}

// Close close the pool
func (p *SimpleDBService) Close() error {
	if p.pool == nil {
		return nil
	}
	return p.pool.Close()
}
