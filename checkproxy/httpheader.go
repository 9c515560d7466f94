package checkproxy

import (
	"net/http"
	"sort"
	"strings"
)

// headerString http response 转换为字符串，header按key排序，用于失败原因
func headerString(r *http.Response) string {
	var sb strings.Builder
	sb.WriteString(r.Proto)
	sb.WriteString(" ")
	sb.WriteString(r.Status)
	sb.WriteString("\n")

	keys := make([]string, 0, len(r.Header))
	for k := range r.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(k + ": " + strings.Join(r.Header[k], ",") + "\n")
	}
	return sb.String()
}
