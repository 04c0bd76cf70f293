package orm

import (
	"database/sql"
	"time"

	"github.com/go-sql-driver/mysql"
)

// NewMySQLDBPool 构建MySQL数据库连接池
func NewMySQLDBPool(config *DBConfig) (*Pool, error) {
	if config == nil {
		return nil, NewDBError(nil, "Not found config")
	}
	if err := config.Parse(); err != nil {
		return nil, NewDBError(err, "Invalid config")
	}

	db, err := sql.Open("mysql", mysqlDSN(config))
	if err != nil {
		return nil, NewDBError(err, "Can't open connection")
	}
	db.SetMaxIdleConns(config.MaxIdle)
	db.SetMaxOpenConns(config.MaxConn)
	if config.MaxTimeSecond > 0 {
		db.SetConnMaxLifetime(time.Duration(config.MaxTimeSecond) * time.Second)
	}
	return NewPool(config.Schema, db), nil
}

func mysqlDSN(config *DBConfig) string {
	dsn := mysql.NewConfig()
	dsn.User = config.User
	dsn.Passwd = config.Pass
	dsn.Net = "tcp"
	dsn.Addr = config.URL
	dsn.DBName = config.Schema
	dsn.ParseTime = true
	dsn.Loc = time.Local
	charset := config.Charset
	if charset == "" {
		charset = "utf8mb4"
	}
	dsn.Params = map[string]string{"charset": charset}
	return dsn.FormatDSN()
}
