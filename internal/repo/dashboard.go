package repo

import (
	"context"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

type DashboardStats struct {
	Users          int                 `json:"users"`
	Products       int                 `json:"products"`
	Orders         int                 `json:"orders"`
	Revenue        decimal.Decimal     `json:"revenue"`
	OrdersByStatus map[OrderStatus]int `json:"ordersByStatus"`
	RecentOrders   []Order             `json:"recentOrders"`
}

// Dashboard 并发汇总后台首页统计。
func (r *Repos) Dashboard(ctx context.Context) (DashboardStats, error) {
	var (
		stats  DashboardStats
		orders []Order
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := r.Users.Count(ctx)
		stats.Users = n
		return err
	})
	g.Go(func() error {
		n, err := r.Products.Count(ctx)
		stats.Products = n
		return err
	})
	g.Go(func() error {
		list, err := r.Orders.List(ctx, OrderFilter{})
		orders = list
		return err
	})
	if err := g.Wait(); err != nil {
		return DashboardStats{}, err
	}

	stats.Orders = len(orders)
	stats.Revenue = decimal.Zero
	stats.OrdersByStatus = make(map[OrderStatus]int)
	for _, o := range orders {
		stats.OrdersByStatus[o.Status]++
		if o.Status.Counted() {
			stats.Revenue = stats.Revenue.Add(o.Total)
		}
	}
	stats.Revenue = stats.Revenue.Round(2)
	recent := orders
	if len(recent) > 5 {
		recent = recent[:5]
	}
	stats.RecentOrders = recent
	return stats, nil
}
