// Package docstore 定义按 collection+id 读写 JSON 文档的存储抽象，业务层只依赖该接口。
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("文档不存在")
	ErrConflict = errors.New("文档已存在")
)

// 集合名称。
const (
	CollUsers            = "users"
	CollUserEmails       = "users_email"
	CollUserProviderUIDs = "users_provider_uid"
	CollOrders           = "orders"
	CollProducts         = "products"
	CollProductSlugs     = "products_slug"
	CollCustomers        = "customers"
	CollCustomerSegments = "customer-segments"
	CollRoles            = "roles"
	CollSystemLogs       = "system_logs"
	CollActivity         = "activity"
	CollSiteSettings     = "siteSettings"
	CollCarts            = "carts"
)

// Doc 是一条文档。Data 为 JSON 对象。
type Doc struct {
	ID        string
	Data      json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (d Doc) Decode(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("解析文档 %s 失败: %w", d.ID, err)
	}
	return nil
}

type Op string

const (
	OpEq            Op = "=="
	OpNe            Op = "!="
	OpLt            Op = "<"
	OpLte           Op = "<="
	OpGt            Op = ">"
	OpGte           Op = ">="
	OpIn            Op = "in"
	OpArrayContains Op = "array-contains"
)

// Filter 作用于文档字段，Path 支持点号分隔的嵌套字段。
type Filter struct {
	Path  string
	Op    Op
	Value any
}

type Query struct {
	Where   []Filter
	OrderBy string
	Desc    bool
	Limit   int
	Offset  int
}

func Where(path string, op Op, value any) Filter {
	return Filter{Path: path, Op: op, Value: value}
}

// Store 是文档存储能力集合。
//
// Create 在 id 已存在时返回 ErrConflict；Update/Get 在文档不存在时返回 ErrNotFound；
// Update 的 patch 按顶层（或点号路径）合并；Delete 对不存在的文档是幂等的。
type Store interface {
	Get(ctx context.Context, coll, id string) (Doc, error)
	Query(ctx context.Context, coll string, q Query) ([]Doc, error)
	Create(ctx context.Context, coll, id string, v any) error
	Set(ctx context.Context, coll, id string, v any) error
	Update(ctx context.Context, coll, id string, patch map[string]any) error
	Delete(ctx context.Context, coll, id string) error
	Ping(ctx context.Context) error
}

// Marshal 把任意值编码为 JSON 对象；非对象值会被拒绝。
func Marshal(v any) (json.RawMessage, error) {
	switch b := v.(type) {
	case json.RawMessage:
		return checkObject(b)
	case []byte:
		return checkObject(b)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("编码文档失败: %w", err)
	}
	return checkObject(b)
}

func checkObject(b []byte) (json.RawMessage, error) {
	for _, c := range b {
		if c == ' ' || c == '\t' || c == '\r' || c == '\n' {
			continue
		}
		if c == '{' && json.Valid(b) {
			return json.RawMessage(b), nil
		}
		break
	}
	return nil, errors.New("文档必须是 JSON 对象")
}
