package konfig

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// AsMap exports every declared option into a plain mapping, evaluating
// descriptors recursively. Secret leaves are fetched concurrently and the
// results are substituted into a fresh copy of the nested structure; the
// declared settings values are never mutated. Cache writes happen per leaf,
// so a cancelled export leaves the cache partially populated but each
// written entry is a complete payload.
func (k *Konfig) AsMap(ctx context.Context) (map[string]interface{}, error) {
	source, err := k.settings()
	if err != nil {
		return nil, err
	}

	g, ctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	result := make(map[string]interface{})

	for _, name := range source.Names() {
		raw, ok := k.overrides.resolve(name)
		if !ok {
			raw, _ = source.Get(name)
		}
		key := name
		err := k.exportValue(ctx, g, raw, func(v interface{}) {
			mu.Lock()
			result[key] = v
			mu.Unlock()
		})
		if err != nil {
			return nil, err
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// exportValue evaluates one raw settings value for export. Non-secret
// leaves evaluate synchronously; secret leaves are scheduled on the group
// and assigned when resolved.
func (k *Konfig) exportValue(ctx context.Context, g *errgroup.Group, raw interface{}, assign func(interface{})) error {
	switch value := raw.(type) {
	case VaultVariable:
		k.loadDotenv()
		g.Go(func() error {
			resolved, err := k.evaluateSecret(ctx, value)
			if err != nil {
				return err
			}
			assign(resolved)
			return nil
		})
		return nil
	case map[string]interface{}:
		nested := make(map[string]interface{}, len(value))
		var mu sync.Mutex
		for key, child := range value {
			key := key
			err := k.exportValue(ctx, g, child, func(v interface{}) {
				mu.Lock()
				nested[key] = v
				mu.Unlock()
			})
			if err != nil {
				return err
			}
		}
		assign(nested)
		return nil
	default:
		evaluated, err := k.evaluate(ctx, raw)
		if err != nil {
			return err
		}
		assign(evaluated)
		return nil
	}
}
