package log

import (
	"fmt"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
)

// prefixKey carries the gosip logger prefix through logrus fields.
const prefixKey = "prefix"

type formatter struct {
	pattern string
	time    string
}

// Format renders an entry with the placeholders %time, %level, %prefix,
// %field and %msg.
func (f *formatter) Format(entry *logrus.Entry) ([]byte, error) {
	prefix := ""
	if p, ok := entry.Data[prefixKey].(string); ok && p != "" {
		prefix = p + ": "
	}
	r := strings.NewReplacer(
		"%time", entry.Time.Format(f.time),
		"%level", entry.Level.String(),
		"%prefix", prefix,
		"%field", buildFields(entry),
		"%msg", entry.Message,
	)
	return []byte(r.Replace(f.pattern)), nil
}

// buildFields renders entry data as key=value pairs sorted by key.
func buildFields(entry *logrus.Entry) string {
	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if k != prefixKey {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	fields := make([]string, 0, len(keys))
	for _, k := range keys {
		val, ok := entry.Data[k].(string)
		if !ok {
			val = fmt.Sprint(entry.Data[k])
		}
		fields = append(fields, k+"="+val)
	}
	return strings.Join(fields, ",")
}
