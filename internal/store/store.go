// Package store 提供基于 SQL 表的文档存储实现，保证业务层只处理领域语义而不是 SQL 细节。
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/internal/docstore"
)

// Store 把每个集合的文档存放在同一张 documents 表中（collection, id 为联合主键）。
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

var _ docstore.Store = (*Store)(nil)

func New(db *sql.DB) *Store {
	return &Store{
		db:      db,
		dialect: DialectMySQL,
		now:     time.Now,
	}
}

func (s *Store) SetDialect(d Dialect) {
	if strings.TrimSpace(string(d)) == "" {
		return
	}
	s.dialect = d
}

func (s *Store) Dialect() Dialect {
	return s.dialect
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Get(ctx context.Context, coll, id string) (docstore.Doc, error) {
	return getDocument(ctx, s.db, s.dialect, coll, id, false)
}

func (s *Store) Query(ctx context.Context, coll string, q docstore.Query) ([]docstore.Doc, error) {
	rows, err := s.db.QueryContext(ctx, rebind(s.dialect, `
SELECT id, data, created_at, updated_at FROM documents WHERE collection=? ORDER BY id
`), coll)
	if err != nil {
		return nil, fmt.Errorf("查询集合 %s 失败: %w", coll, err)
	}
	defer rows.Close()

	var docs []docstore.Doc
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("读取集合 %s 失败: %w", coll, err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历集合 %s 失败: %w", coll, err)
	}
	return docstore.Apply(docs, q), nil
}

func (s *Store) Create(ctx context.Context, coll, id string, v any) error {
	if err := validateKey(coll, id); err != nil {
		return err
	}
	data, err := docstore.Marshal(v)
	if err != nil {
		return err
	}
	now := s.now().UnixMilli()
	q := insertIgnoreSQL(s.dialect, "documents", "collection, id, data, created_at, updated_at", "?, ?, ?, ?, ?")
	res, err := s.db.ExecContext(ctx, rebind(s.dialect, q), coll, id, string(data), now, now)
	if err != nil {
		return fmt.Errorf("创建文档 %s/%s 失败: %w", coll, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("创建文档 %s/%s 失败: %w", coll, id, err)
	}
	if n == 0 {
		return docstore.ErrConflict
	}
	return nil
}

func (s *Store) Set(ctx context.Context, coll, id string, v any) error {
	if err := validateKey(coll, id); err != nil {
		return err
	}
	data, err := docstore.Marshal(v)
	if err != nil {
		return err
	}
	now := s.now().UnixMilli()
	if _, err := s.db.ExecContext(ctx, rebind(s.dialect, upsertDocumentSQL(s.dialect)), coll, id, string(data), now, now); err != nil {
		return fmt.Errorf("写入文档 %s/%s 失败: %w", coll, id, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, coll, id string, patch map[string]any) error {
	if len(patch) == 0 {
		_, err := s.Get(ctx, coll, id)
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := getDocument(ctx, tx, s.dialect, coll, id, true)
	if err != nil {
		return err
	}
	data, err := docstore.MergePatch(cur.Data, patch)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, rebind(s.dialect, `
UPDATE documents SET data=?, updated_at=? WHERE collection=? AND id=?
`), string(data), s.now().UnixMilli(), coll, id); err != nil {
		return fmt.Errorf("更新文档 %s/%s 失败: %w", coll, id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, coll, id string) error {
	if _, err := s.db.ExecContext(ctx, rebind(s.dialect, `DELETE FROM documents WHERE collection=? AND id=?`), coll, id); err != nil {
		return fmt.Errorf("删除文档 %s/%s 失败: %w", coll, id, err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func getDocument(ctx context.Context, q queryer, d Dialect, coll, id string, lock bool) (docstore.Doc, error) {
	stmt := `SELECT id, data, created_at, updated_at FROM documents WHERE collection=? AND id=?`
	if lock {
		stmt += forUpdateClause(d)
	}
	doc, err := scanDocument(q.QueryRowContext(ctx, rebind(d, stmt), coll, id))
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.Doc{}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.Doc{}, fmt.Errorf("读取文档 %s/%s 失败: %w", coll, id, err)
	}
	return doc, nil
}

func scanDocument(r rowScanner) (docstore.Doc, error) {
	var (
		d                  docstore.Doc
		data               string
		created, updatedMs int64
	)
	if err := r.Scan(&d.ID, &data, &created, &updatedMs); err != nil {
		return docstore.Doc{}, err
	}
	d.Data = []byte(data)
	d.CreatedAt = time.UnixMilli(created)
	d.UpdatedAt = time.UnixMilli(updatedMs)
	return d, nil
}

func validateKey(coll, id string) error {
	if strings.TrimSpace(coll) == "" {
		return errors.New("collection 不能为空")
	}
	if strings.TrimSpace(id) == "" {
		return errors.New("文档 id 不能为空")
	}
	if len(coll) > 64 || len(id) > 191 {
		return errors.New("collection/id 过长")
	}
	return nil
}
