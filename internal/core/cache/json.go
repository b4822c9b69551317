package cache

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
)

// Loader is the slice of Cache the JSON helpers need.
type Loader interface {
	GetOrLoad(ctx context.Context, key string, load func(context.Context) ([]byte, error)) ([]byte, error)
}

func GetOrLoadJSON[T any](c Loader, ctx context.Context, key string, load func(ctx context.Context) (T, error)) (T, error) {
	var out T
	b, err := c.GetOrLoad(ctx, key, func(ctx context.Context) ([]byte, error) {
		v, e := load(ctx)
		if e != nil {
			return nil, e
		}
		return json.Marshal(v)
	})
	if err != nil {
		return out, err
	}
	if e := json.Unmarshal(b, &out); e != nil {
		return out, e
	}
	return out, nil
}

// Key joins parts with ':' e.g. Key("user", "id", id, "active").
func Key(parts ...string) string { return strings.Join(parts, ":") }

// IDsKey is order-independent: the ids are sorted before joining.
func IDsKey(prefix string, ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return prefix + ":" + strings.Join(sorted, ",")
}
