package docstore

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tidwall/sjson"
)

type deleteField struct{}

// DeleteField 作为 patch 值时表示删除该字段。
var DeleteField any = deleteField{}

// MergePatch 把 patch 按 key（点号路径）写入 JSON 文档。
func MergePatch(data []byte, patch map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := append([]byte(nil), data...)
	for _, k := range keys {
		v := patch[k]
		var err error
		if _, ok := v.(deleteField); ok {
			out, err = sjson.DeleteBytes(out, k)
		} else {
			var raw []byte
			raw, err = json.Marshal(v)
			if err == nil {
				out, err = sjson.SetRawBytes(out, k, raw)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("合并字段 %s 失败: %w", k, err)
		}
	}
	return out, nil
}
