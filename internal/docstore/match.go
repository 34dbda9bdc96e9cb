package docstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// Match 判断 JSON 文档是否满足全部过滤条件。不支持的操作符视为不匹配。
func Match(data []byte, filters []Filter) bool {
	for _, f := range filters {
		if !matchOne(gjson.GetBytes(data, f.Path), f) {
			return false
		}
	}
	return true
}

func matchOne(field gjson.Result, f Filter) bool {
	switch f.Op {
	case OpEq:
		c, ok := compare(field, f.Value)
		return ok && c == 0
	case OpNe:
		c, ok := compare(field, f.Value)
		return !ok || c != 0
	case OpLt, OpLte, OpGt, OpGte:
		if !field.Exists() {
			return false
		}
		c, ok := compare(field, f.Value)
		if !ok {
			return false
		}
		switch f.Op {
		case OpLt:
			return c < 0
		case OpLte:
			return c <= 0
		case OpGt:
			return c > 0
		default:
			return c >= 0
		}
	case OpIn:
		for _, v := range toSlice(f.Value) {
			if c, ok := compare(field, v); ok && c == 0 {
				return true
			}
		}
		return false
	case OpArrayContains:
		if !field.IsArray() {
			return false
		}
		found := false
		field.ForEach(func(_, item gjson.Result) bool {
			if c, ok := compare(item, f.Value); ok && c == 0 {
				found = true
				return false
			}
			return true
		})
		return found
	default:
		return false
	}
}

// compare 比较 JSON 字段与 Go 值；类型不兼容时 ok=false。
func compare(field gjson.Result, v any) (int, bool) {
	if !field.Exists() {
		return 0, v == nil
	}
	switch x := v.(type) {
	case nil:
		return 0, field.Type == gjson.Null
	case string:
		if field.Type != gjson.String {
			return 0, false
		}
		return strings.Compare(field.Str, x), true
	case bool:
		if field.Type != gjson.True && field.Type != gjson.False {
			return 0, false
		}
		a, b := field.Bool(), x
		switch {
		case a == b:
			return 0, true
		case !a:
			return -1, true
		default:
			return 1, true
		}
	case fmt.Stringer:
		if field.Type != gjson.String {
			return 0, false
		}
		return strings.Compare(field.Str, x.String()), true
	}
	n, ok := toFloat(v)
	if !ok || field.Type != gjson.Number {
		return 0, false
	}
	a := field.Num
	switch {
	case a < n:
		return -1, true
	case a > n:
		return 1, true
	default:
		return 0, true
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toSlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []string:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out
	case []int:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out
	}
	return []any{v}
}

// Apply 在内存中执行过滤、排序与分页。用于不支持原生查询的后端。
func Apply(docs []Doc, q Query) []Doc {
	out := docs[:0:0]
	for _, d := range docs {
		if Match(d.Data, q.Where) {
			out = append(out, d)
		}
	}
	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			a := gjson.GetBytes(out[i].Data, q.OrderBy)
			b := gjson.GetBytes(out[j].Data, q.OrderBy)
			if q.Desc {
				return lessResult(b, a)
			}
			return lessResult(a, b)
		})
	}
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// lessResult 的排序：缺失 < null < false < true < 数字 < 字符串。
func lessResult(a, b gjson.Result) bool {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra < rb
	}
	switch a.Type {
	case gjson.Number:
		return a.Num < b.Num
	case gjson.String:
		return a.Str < b.Str
	}
	return false
}

func rank(r gjson.Result) int {
	if !r.Exists() {
		return 0
	}
	switch r.Type {
	case gjson.Null:
		return 1
	case gjson.False:
		return 2
	case gjson.True:
		return 3
	case gjson.Number:
		return 4
	case gjson.String:
		return 5
	}
	return 6
}
