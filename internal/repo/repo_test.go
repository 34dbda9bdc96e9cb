package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"storefront/internal/apperr"
	"storefront/internal/auth"
	"storefront/internal/docstore"
)

func newTestRepos(t *testing.T) *Repos {
	t.Helper()
	return New(docstore.NewMemory())
}

func TestUsers_CreateRejectsDuplicateEmail(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRepos(t)

	u, err := r.Users.Create(ctx, CreateUserInput{Email: " A@B.com ", Password: "12345678", Role: auth.RoleAdmin})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if u.Email != "a@b.com" || !u.IsAdmin() {
		t.Fatalf("unexpected user: %+v", u)
	}
	if !auth.CheckPassword([]byte(u.PasswordHash), "12345678") {
		t.Fatalf("password hash mismatch")
	}

	_, err = r.Users.Create(ctx, CreateUserInput{Email: "a@b.com", Password: "abcdefgh"})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	if e := apperr.As(err); e == nil || e.Status() != 400 || e.Message != "Email is already taken" {
		t.Fatalf("unexpected apperr: %#v", e)
	}

	got, err := r.Users.GetByEmail(ctx, "A@B.COM")
	if err != nil || got.ID != u.ID {
		t.Fatalf("GetByEmail = %+v, %v", got, err)
	}
}

func TestUsers_UpdateEmailMovesIndex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRepos(t)

	a, _ := r.Users.Create(ctx, CreateUserInput{Email: "a@example.com"})
	if _, err := r.Users.Create(ctx, CreateUserInput{Email: "b@example.com"}); err != nil {
		t.Fatalf("Create b: %v", err)
	}

	taken := "b@example.com"
	if _, err := r.Users.Update(ctx, a.ID, UserPatch{Email: &taken}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	next := "c@example.com"
	if _, err := r.Users.Update(ctx, a.ID, UserPatch{Email: &next}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := r.Users.GetByEmail(ctx, "a@example.com"); !IsNotFound(err) {
		t.Fatalf("old email index should be released, got %v", err)
	}
	if _, err := r.Users.Create(ctx, CreateUserInput{Email: "a@example.com"}); err != nil {
		t.Fatalf("old email should be reusable: %v", err)
	}
}

func TestUsers_ProviderLink(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRepos(t)

	u, _ := r.Users.Create(ctx, CreateUserInput{Email: "p@example.com"})
	if err := r.Users.LinkProvider(ctx, u.ID, "uid-1"); err != nil {
		t.Fatalf("LinkProvider: %v", err)
	}
	if err := r.Users.LinkProvider(ctx, u.ID, "uid-1"); err != nil {
		t.Fatalf("LinkProvider should be idempotent: %v", err)
	}
	got, err := r.Users.GetByProviderUID(ctx, "uid-1")
	if err != nil || got.ID != u.ID {
		t.Fatalf("GetByProviderUID = %+v, %v", got, err)
	}
	other, _ := r.Users.Create(ctx, CreateUserInput{Email: "q@example.com"})
	if err := r.Users.LinkProvider(ctx, other.ID, "uid-1"); err == nil {
		t.Fatalf("expected conflict linking uid to a second user")
	}
}

func TestProducts_SlugUniqueAndSanitized(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRepos(t)

	p, err := r.Products.Create(ctx, ProductInput{
		Name:        "Red Rose Bouquet",
		Description: `<p>Fresh<script>alert(1)</script></p>`,
		Price:       decimal.RequireFromString("19.999"),
		Stock:       3,
		Published:   true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.Slug != "red-rose-bouquet" {
		t.Fatalf("slug=%q", p.Slug)
	}
	if p.Description != "<p>Fresh</p>" {
		t.Fatalf("description=%q", p.Description)
	}
	if !p.Price.Equal(decimal.RequireFromString("20")) {
		t.Fatalf("price=%s", p.Price)
	}

	if _, err := r.Products.Create(ctx, ProductInput{Name: "Red rose bouquet", Price: decimal.NewFromInt(1)}); !errors.Is(err, ErrSlugTaken) {
		t.Fatalf("expected ErrSlugTaken, got %v", err)
	}

	got, err := r.Products.GetBySlugOrID(ctx, "red-rose-bouquet")
	if err != nil || got.ID != p.ID {
		t.Fatalf("GetBySlugOrID(slug) = %+v, %v", got, err)
	}
	got, err = r.Products.GetBySlugOrID(ctx, p.ID)
	if err != nil || got.ID != p.ID {
		t.Fatalf("GetBySlugOrID(id) = %+v, %v", got, err)
	}

	if err := r.Products.AdjustStock(ctx, p.ID, -4); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if err := r.Products.AdjustStock(ctx, p.ID, -3); err != nil {
		t.Fatalf("AdjustStock: %v", err)
	}
}

func TestOrders_TransitionsAndMarkPaid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRepos(t)

	o, err := r.Orders.Create(ctx, Order{
		UserID:   "u1",
		Email:    "u1@example.com",
		Currency: "usd",
		Shipping: decimal.RequireFromString("5"),
		Items: []OrderItem{
			{ProductID: "p1", Name: "Rose", Price: decimal.RequireFromString("10.50"), Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if o.Status != OrderPending || !o.Total.Equal(decimal.RequireFromString("26")) {
		t.Fatalf("unexpected order: status=%s total=%s", o.Status, o.Total)
	}

	if _, err := r.Orders.Transition(ctx, o.ID, OrderShipped, "admin"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	paid, changed, err := r.Orders.MarkPaid(ctx, o.ID, "stripe", "pi_123")
	if err != nil || !changed || paid.Status != OrderPaid || paid.PaidAt == nil {
		t.Fatalf("MarkPaid = %+v, %v, %v", paid, changed, err)
	}
	_, changed, err = r.Orders.MarkPaid(ctx, o.ID, "stripe", "pi_123")
	if err != nil || changed {
		t.Fatalf("second MarkPaid should be a no-op, changed=%v err=%v", changed, err)
	}

	found, err := r.Orders.FindByPaymentRef(ctx, "stripe", "pi_123")
	if err != nil || found.ID != o.ID {
		t.Fatalf("FindByPaymentRef = %+v, %v", found, err)
	}

	for _, to := range []OrderStatus{OrderProcessing, OrderShipped, OrderDelivered, OrderRefunded} {
		if _, err := r.Orders.Transition(ctx, o.ID, to, "admin"); err != nil {
			t.Fatalf("Transition to %s: %v", to, err)
		}
	}
	final, _ := r.Orders.Get(ctx, o.ID)
	if len(final.History) != 6 {
		t.Fatalf("history len=%d, want 6", len(final.History))
	}
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderPending, OrderPaid, true},
		{OrderPending, OrderShipped, false},
		{OrderPaid, OrderRefunded, true},
		{OrderShipped, OrderCancelled, false},
		{OrderDelivered, OrderRefunded, true},
		{OrderCancelled, OrderPending, false},
		{OrderRefunded, OrderPaid, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s,%s)=%v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestCustomers_RecalculateStatsIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRepos(t)

	u, _ := r.Users.Create(ctx, CreateUserInput{Email: "c@example.com"})
	if _, err := r.Customers.EnsureForUser(ctx, u); err != nil {
		t.Fatalf("EnsureForUser: %v", err)
	}
	if _, err := r.Customers.EnsureForUser(ctx, u); err != nil {
		t.Fatalf("EnsureForUser second call: %v", err)
	}

	mk := func(price string) Order {
		o, err := r.Orders.Create(ctx, Order{UserID: u.ID, Items: []OrderItem{{ProductID: "p", Price: decimal.RequireFromString(price), Quantity: 1}}})
		if err != nil {
			t.Fatalf("Create order: %v", err)
		}
		return o
	}
	a := mk("10")
	mk("99")
	c := mk("2.5")
	if _, _, err := r.Orders.MarkPaid(ctx, a.ID, "stripe", "pi_a"); err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}
	if _, _, err := r.Orders.MarkPaid(ctx, c.ID, "stripe", "pi_c"); err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}

	for i := 0; i < 2; i++ {
		got, err := r.Customers.RecalculateStats(ctx, r.Orders, u.ID)
		if err != nil {
			t.Fatalf("RecalculateStats: %v", err)
		}
		if !got.LifetimeValue.Equal(decimal.RequireFromString("12.5")) || got.OrderCount != 2 {
			t.Fatalf("ltv=%s count=%d", got.LifetimeValue, got.OrderCount)
		}
	}
}

func TestSegments_Members(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRepos(t)

	for _, email := range []string{"big@example.com", "small@example.com"} {
		u, _ := r.Users.Create(ctx, CreateUserInput{Email: email})
		if _, err := r.Customers.EnsureForUser(ctx, u); err != nil {
			t.Fatalf("EnsureForUser: %v", err)
		}
		if email == "big@example.com" {
			o, _ := r.Orders.Create(ctx, Order{UserID: u.ID, Items: []OrderItem{{ProductID: "p", Price: decimal.NewFromInt(150), Quantity: 1}}})
			_, _, _ = r.Orders.MarkPaid(ctx, o.ID, "stripe", "pi_big")
			if _, err := r.Customers.RecalculateStats(ctx, r.Orders, u.ID); err != nil {
				t.Fatalf("RecalculateStats: %v", err)
			}
		}
	}

	if _, err := r.Segments.Create(ctx, SegmentInput{Name: "bad", Rules: []SegmentRule{{Field: "passwordHash", Op: docstore.OpEq, Value: "x"}}}); err == nil {
		t.Fatalf("expected invalid field to be rejected")
	}

	seg, err := r.Segments.Create(ctx, SegmentInput{
		Name:  "VIP",
		Rules: []SegmentRule{{Field: "lifetimeValue", Op: docstore.OpGte, Value: float64(100)}},
	})
	if err != nil {
		t.Fatalf("Create segment: %v", err)
	}
	members, err := r.Segments.Members(ctx, r.Customers, seg.ID)
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if len(members) != 1 || members[0].Email != "big@example.com" {
		t.Fatalf("members=%+v", members)
	}

	anySeg, err := r.Segments.Create(ctx, SegmentInput{
		Name:  "either",
		Match: SegmentMatchAny,
		Rules: []SegmentRule{
			{Field: "email", Op: docstore.OpEq, Value: "small@example.com"},
			{Field: "orderCount", Op: docstore.OpGt, Value: float64(0)},
		},
	})
	if err != nil {
		t.Fatalf("Create any segment: %v", err)
	}
	members, err = r.Segments.Members(ctx, r.Customers, anySeg.ID)
	if err != nil || len(members) != 2 {
		t.Fatalf("any members=%d err=%v", len(members), err)
	}
}

func TestRoles_SystemRolesProtected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRepos(t)

	if err := r.Roles.EnsureSystemRoles(ctx); err != nil {
		t.Fatalf("EnsureSystemRoles: %v", err)
	}
	if err := r.Roles.EnsureSystemRoles(ctx); err != nil {
		t.Fatalf("EnsureSystemRoles second call: %v", err)
	}
	if err := r.Roles.Delete(ctx, "ADMIN"); !errors.Is(err, ErrSystemRole) {
		t.Fatalf("expected ErrSystemRole, got %v", err)
	}

	role, err := r.Roles.Create(ctx, RoleInput{Name: "editor", Permissions: []string{"products:write", "products:read", "products:write"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if role.ID != "EDITOR" || len(role.Permissions) != 2 {
		t.Fatalf("role=%+v", role)
	}
	if _, err := r.Roles.Create(ctx, RoleInput{Name: "Editor"}); !errors.Is(err, ErrRoleExists) {
		t.Fatalf("expected ErrRoleExists, got %v", err)
	}
	if _, err := r.Roles.Create(ctx, RoleInput{Name: "x", Permissions: []string{"root:all"}}); err == nil {
		t.Fatalf("expected unknown permission to be rejected")
	}
	if err := r.Roles.Delete(ctx, "editor"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func TestSettings_DefaultsAndPut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRepos(t)

	s, err := r.Settings.Get(ctx)
	if err != nil || s.StoreName == "" || s.Currency != "usd" {
		t.Fatalf("defaults = %+v, %v", s, err)
	}
	s.StoreName = "Flower Shop"
	s.Currency = "EUR"
	s.ShippingFlat = decimal.NewFromInt(5)
	s.FreeShippingAt = decimal.NewFromInt(50)
	if _, err := r.Settings.Put(ctx, s, "admin"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, _ := r.Settings.Get(ctx)
	if got.StoreName != "Flower Shop" || got.Currency != "eur" {
		t.Fatalf("got=%+v", got)
	}
	if !got.ShippingFor(decimal.NewFromInt(60)).IsZero() || !got.ShippingFor(decimal.NewFromInt(10)).Equal(decimal.NewFromInt(5)) {
		t.Fatalf("unexpected shipping rule")
	}
	s.Currency = "euro"
	if _, err := r.Settings.Put(ctx, s, "admin"); err == nil {
		t.Fatalf("expected invalid currency to be rejected")
	}
}

func TestCarts_SetAddMerge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRepos(t)

	if _, err := r.Carts.AddItem(ctx, "guest", "p1", 2); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if _, err := r.Carts.AddItem(ctx, "guest", "p1", 1); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if _, err := r.Carts.SetItem(ctx, "user", "p1", 1); err != nil {
		t.Fatalf("SetItem: %v", err)
	}
	if _, err := r.Carts.SetItem(ctx, "user", "p2", 4); err != nil {
		t.Fatalf("SetItem: %v", err)
	}

	merged, err := r.Carts.Merge(ctx, "guest", "user")
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(merged.Items) != 2 || merged.Items[0].Quantity != 4 {
		t.Fatalf("merged=%+v", merged.Items)
	}
	guest, _ := r.Carts.Get(ctx, "guest")
	if len(guest.Items) != 0 {
		t.Fatalf("guest cart should be cleared, got %+v", guest.Items)
	}

	c, err := r.Carts.SetItem(ctx, "user", "p2", 0)
	if err != nil || len(c.Items) != 1 {
		t.Fatalf("remove item = %+v, %v", c.Items, err)
	}
}

func TestLogs_ListNewestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRepos(t)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	r.Logs.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	for _, action := range []string{"user.create", "user.delete", "user.create"} {
		if err := r.Logs.System(ctx, LogEntry{Action: action, ActorID: "admin"}); err != nil {
			t.Fatalf("System: %v", err)
		}
	}
	list, err := r.Logs.ListSystem(ctx, LogFilter{Action: "user.create"})
	if err != nil {
		t.Fatalf("ListSystem: %v", err)
	}
	if len(list) != 2 || list[0].TS <= list[1].TS || list[0].Level != "info" {
		t.Fatalf("list=%+v", list)
	}
}

func TestDashboard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newTestRepos(t)

	u, _ := r.Users.Create(ctx, CreateUserInput{Email: "d@example.com"})
	_, _ = r.Products.Create(ctx, ProductInput{Name: "Tulip", Price: decimal.NewFromInt(3)})
	o, _ := r.Orders.Create(ctx, Order{UserID: u.ID, Items: []OrderItem{{ProductID: "p", Price: decimal.NewFromInt(7), Quantity: 3}}})
	_, _ = r.Orders.Create(ctx, Order{UserID: u.ID, Items: []OrderItem{{ProductID: "p", Price: decimal.NewFromInt(1), Quantity: 1}}})
	_, _, _ = r.Orders.MarkPaid(ctx, o.ID, "epay", "")

	stats, err := r.Dashboard(ctx)
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if stats.Users != 1 || stats.Products != 1 || stats.Orders != 2 {
		t.Fatalf("stats=%+v", stats)
	}
	if !stats.Revenue.Equal(decimal.NewFromInt(21)) || stats.OrdersByStatus[OrderPending] != 1 {
		t.Fatalf("revenue=%s byStatus=%v", stats.Revenue, stats.OrdersByStatus)
	}
}
