package vectorstore

import (
	"context"
	"fmt"

	"github.com/rcliao/avatar-memory/internal/model"
)

// ExportAll returns every stored vector. Empty index or namespace match all.
func (s *SQLiteStore) ExportAll(ctx context.Context, index, namespace string) ([]Record, error) {
	return s.records(ctx, ListParams{Index: index, Namespace: namespace}, "index_name, namespace, id")
}

// Import writes exported records into dst, creating each index with the
// dimension of its first vector. It returns how many vectors were written.
func Import(ctx context.Context, dst Store, records []Record, region Region) (int, error) {
	type location struct{ index, namespace string }

	var order []location
	groups := map[location][]model.Vector{}
	for _, r := range records {
		loc := location{r.Index, r.Namespace}
		if _, ok := groups[loc]; !ok {
			order = append(order, loc)
		}
		groups[loc] = append(groups[loc], r.Vector)
	}

	ensured := map[string]bool{}
	imported := 0
	for _, loc := range order {
		vectors := groups[loc]
		if !ensured[loc.index] {
			if err := dst.EnsureIndex(ctx, IndexSpec{
				Name:      loc.index,
				Dimension: len(vectors[0].Values),
				Metric:    MetricCosine,
				Region:    region,
			}); err != nil {
				return imported, fmt.Errorf("ensure index %s: %w", loc.index, err)
			}
			ensured[loc.index] = true
		}
		if err := dst.Upsert(ctx, loc.index, loc.namespace, vectors); err != nil {
			return imported, fmt.Errorf("upsert %s/%s: %w", loc.index, loc.namespace, err)
		}
		imported += len(vectors)
	}
	return imported, nil
}
