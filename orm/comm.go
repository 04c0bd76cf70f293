// Package orm 简单的DAL封装
package orm

import (
	"fmt"
)

// DBError 数据库操作错误
type DBError struct {
	Msg string
	Err error
}

func (e *DBError) Error() string {
	return fmt.Sprintf("DBError msg:%s,err:%v", e.Msg, e.Err)
}

// Unwrap return the cause
func (e *DBError) Unwrap() error {
	return e.Err
}

// NewDBError 构建数据库操作错误
func NewDBError(err error, msg string) *DBError {
	return &DBError{Msg: msg, Err: err}
}
