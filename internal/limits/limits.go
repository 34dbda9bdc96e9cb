// Package limits 提供按 key 计数的并发上限，用于拦截同一用户的重复提交。
package limits

import "sync"

// Inflight 限制每个 key 同时进行中的操作数。nil 接收者表示不限制。
type Inflight struct {
	max int

	mu       sync.Mutex
	inflight map[string]int
}

func NewInflight(max int) *Inflight {
	if max <= 0 {
		max = 1
	}
	return &Inflight{
		max:      max,
		inflight: make(map[string]int),
	}
}

// Acquire 占用一个名额；已达上限时返回 false，调用方不得 Release。
func (l *Inflight) Acquire(key string) bool {
	if l == nil || key == "" {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inflight[key] >= l.max {
		return false
	}
	l.inflight[key]++
	return true
}

func (l *Inflight) Release(key string) {
	if l == nil || key == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inflight[key] > 0 {
		l.inflight[key]--
	}
	if l.inflight[key] == 0 {
		delete(l.inflight, key)
	}
}

// Active 返回 key 当前占用数。
func (l *Inflight) Active(key string) int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inflight[key]
}
