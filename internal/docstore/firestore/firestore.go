// Package firestore 把 docstore.Store 映射到 Cloud Firestore 集合。
package firestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	gcfs "cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"storefront/internal/docstore"
)

type Store struct {
	client *gcfs.Client
}

var _ docstore.Store = (*Store)(nil)

// Open 使用默认凭据（GOOGLE_APPLICATION_CREDENTIALS / 元数据服务）连接 Firestore。
func Open(ctx context.Context, projectID string) (*Store, error) {
	client, err := gcfs.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("连接 Firestore 失败: %w", err)
	}
	return &Store{client: client}, nil
}

func New(client *gcfs.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Get(ctx context.Context, coll, id string) (docstore.Doc, error) {
	snap, err := s.client.Collection(coll).Doc(id).Get(ctx)
	if err != nil {
		return docstore.Doc{}, mapErr(err, coll, id)
	}
	return fromSnapshot(snap)
}

func (s *Store) Query(ctx context.Context, coll string, q docstore.Query) ([]docstore.Doc, error) {
	query := s.client.Collection(coll).Query
	for _, f := range q.Where {
		query = query.Where(f.Path, string(f.Op), f.Value)
	}
	if q.OrderBy != "" {
		dir := gcfs.Asc
		if q.Desc {
			dir = gcfs.Desc
		}
		query = query.OrderBy(q.OrderBy, dir)
	}
	if q.Offset > 0 {
		query = query.Offset(q.Offset)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	snaps, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("查询集合 %s 失败: %w", coll, err)
	}
	out := make([]docstore.Doc, 0, len(snaps))
	for _, snap := range snaps {
		d, err := fromSnapshot(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Store) Create(ctx context.Context, coll, id string, v any) error {
	data, err := toMap(v)
	if err != nil {
		return err
	}
	if _, err := s.client.Collection(coll).Doc(id).Create(ctx, data); err != nil {
		return mapErr(err, coll, id)
	}
	return nil
}

func (s *Store) Set(ctx context.Context, coll, id string, v any) error {
	data, err := toMap(v)
	if err != nil {
		return err
	}
	if _, err := s.client.Collection(coll).Doc(id).Set(ctx, data); err != nil {
		return mapErr(err, coll, id)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, coll, id string, patch map[string]any) error {
	updates := make([]gcfs.Update, 0, len(patch))
	for k, v := range patch {
		if v == docstore.DeleteField {
			updates = append(updates, gcfs.Update{Path: k, Value: gcfs.Delete})
			continue
		}
		g, err := toGeneric(v)
		if err != nil {
			return err
		}
		updates = append(updates, gcfs.Update{Path: k, Value: g})
	}
	if len(updates) == 0 {
		_, err := s.Get(ctx, coll, id)
		return err
	}
	if _, err := s.client.Collection(coll).Doc(id).Update(ctx, updates); err != nil {
		return mapErr(err, coll, id)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, coll, id string) error {
	if _, err := s.client.Collection(coll).Doc(id).Delete(ctx); err != nil {
		return mapErr(err, coll, id)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.Collection(docstore.CollSiteSettings).Limit(1).Documents(ctx).GetAll()
	return err
}

func mapErr(err error, coll, id string) error {
	switch status.Code(err) {
	case codes.NotFound:
		return docstore.ErrNotFound
	case codes.AlreadyExists:
		return docstore.ErrConflict
	}
	return fmt.Errorf("Firestore %s/%s: %w", coll, id, err)
}

func fromSnapshot(snap *gcfs.DocumentSnapshot) (docstore.Doc, error) {
	b, err := json.Marshal(snap.Data())
	if err != nil {
		return docstore.Doc{}, fmt.Errorf("编码文档 %s 失败: %w", snap.Ref.ID, err)
	}
	return docstore.Doc{
		ID:        snap.Ref.ID,
		Data:      b,
		CreatedAt: snap.CreateTime,
		UpdatedAt: snap.UpdateTime,
	}, nil
}

// toMap 经由 JSON 归一化，使 Firestore 字段名与 json tag 一致。
func toMap(v any) (map[string]any, error) {
	raw, err := docstore.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("解析文档失败: %w", err)
	}
	return m, nil
}

func toGeneric(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, int, int64, float64:
		return v, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("编码字段失败: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, errors.New("字段无法转换为 Firestore 值")
	}
	return out, nil
}
