package store

func forUpdateClause(d Dialect) string {
	if d == DialectMySQL || d == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// insertIgnoreSQL 生成“主键冲突时忽略”的插入语句，调用方通过 RowsAffected 判断是否冲突。
func insertIgnoreSQL(d Dialect, table string, cols string, placeholders string) string {
	switch d {
	case DialectSQLite:
		return "INSERT OR IGNORE INTO " + table + "(" + cols + ") VALUES(" + placeholders + ")"
	case DialectPostgres:
		return "INSERT INTO " + table + "(" + cols + ") VALUES(" + placeholders + ") ON CONFLICT DO NOTHING"
	default:
		return "INSERT IGNORE INTO " + table + "(" + cols + ") VALUES(" + placeholders + ")"
	}
}

func upsertDocumentSQL(d Dialect) string {
	if d == DialectMySQL {
		return `INSERT INTO documents(collection, id, data, created_at, updated_at) VALUES(?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE data=VALUES(data), updated_at=VALUES(updated_at)`
	}
	return `INSERT INTO documents(collection, id, data, created_at, updated_at) VALUES(?, ?, ?, ?, ?)
ON CONFLICT(collection, id) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at`
}
