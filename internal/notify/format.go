package notify

import (
	"fmt"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
)

const emptyMessage = "Empty message"

// FormatPayload 将任意告警载荷转为群消息文本。JSON对象逐行展开为
// "key: value"（按键排序保证稳定输出），其余JSON缩进输出，非JSON原样转发。
func FormatPayload(raw []byte) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return emptyMessage
	}

	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return trimmed
	}

	switch value := decoded.(type) {
	case map[string]interface{}:
		if len(value) == 0 {
			return "{}"
		}
		keys := make([]string, 0, len(value))
		for key := range value {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		var b strings.Builder
		for _, key := range keys {
			fmt.Fprintf(&b, "%s: %v\n", key, value[key])
		}
		return b.String()
	default:
		pretty, err := json.MarshalIndent(decoded, "", "  ")
		if err != nil {
			return trimmed
		}
		return string(pretty)
	}
}
