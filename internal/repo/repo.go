// Package repo 在 docstore 之上实现各业务集合的读写规则（唯一约束、状态流转、统计）。
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"storefront/internal/apperr"
	"storefront/internal/docstore"
)

var (
	ErrNotFound          = docstore.ErrNotFound
	ErrEmailTaken        = apperr.Conflict("Email is already taken")
	ErrSlugTaken         = apperr.Conflict("Slug is already taken")
	ErrRoleExists        = apperr.Conflict("Role already exists")
	ErrSystemRole        = apperr.Validation("System roles cannot be deleted", nil)
	ErrInvalidTransition = apperr.Validation("Invalid status transition", nil)
	ErrInsufficientStock = apperr.Validation("Insufficient stock", nil)
	ErrEmptyCart         = apperr.Validation("Cart is empty", nil)
)

type Repos struct {
	Store     docstore.Store
	Users     *Users
	Products  *Products
	Orders    *Orders
	Customers *Customers
	Segments  *Segments
	Roles     *Roles
	Settings  *Settings
	Logs      *Logs
	Carts     *Carts
}

func New(st docstore.Store) *Repos {
	r := &Repos{
		Store:     st,
		Users:     &Users{st: st, now: utcNow},
		Products:  &Products{st: st, now: utcNow},
		Orders:    &Orders{st: st, now: utcNow},
		Customers: &Customers{st: st, now: utcNow},
		Segments:  &Segments{st: st, now: utcNow},
		Roles:     &Roles{st: st, now: utcNow},
		Settings:  &Settings{st: st, now: utcNow},
		Logs:      &Logs{st: st, now: utcNow},
		Carts:     &Carts{st: st, now: utcNow},
	}
	return r
}

func utcNow() time.Time { return time.Now().UTC() }

func newID() string { return uuid.NewString() }

func IsNotFound(err error) bool { return errors.Is(err, docstore.ErrNotFound) }

// indexRef 是唯一索引文档的内容。
type indexRef struct {
	ID string `json:"id"`
}

func lookupIndex(ctx context.Context, st docstore.Store, coll, key string) (string, error) {
	d, err := st.Get(ctx, coll, key)
	if err != nil {
		return "", err
	}
	var ref indexRef
	if err := d.Decode(&ref); err != nil {
		return "", err
	}
	if ref.ID == "" {
		return "", docstore.ErrNotFound
	}
	return ref.ID, nil
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
