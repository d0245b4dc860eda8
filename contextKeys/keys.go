package contextkeys

import "context"

type ContextKey string

func (c ContextKey) String() string {
	return string(c)
}

const TraceID ContextKey = "trace_id"

var Keys []ContextKey = []ContextKey{
	TraceID,
}

// Values returns the known keys that are set on ctx as strings.
func Values(ctx context.Context) map[string]string {
	out := make(map[string]string, len(Keys))
	for _, k := range Keys {
		v, ok := ctx.Value(k).(string)
		if !ok || v == "" {
			continue
		}
		out[k.String()] = v
	}
	return out
}
