package store

import "errors"

var (
	// ErrUnsupportedDialect 表示当前方言没有对应的 schema 初始化方式。
	ErrUnsupportedDialect = errors.New("不支持的数据库方言")
)
