package basic

import (
	"context"
	"fmt"

	"ormkit/data/orm"
	"ormkit/errors"
	"ormkit/schema"
)

// localKey 关联在本实体上使用的键
func (m *model) localKey(rel schema.Relation) string {
	if rel.Kind == schema.BelongsTo {
		return rel.ForeignKey
	}
	if rel.SourceKey != "" {
		return rel.SourceKey
	}
	return m.s.PrimaryKey().Name
}

// loadIncludes 按关联批量加载子记录并挂到 row[关联名] 上
//
//   - BelongsTo / HasOne：挂单条记录或 nil
//   - HasMany：挂 []orm.Row，没有时为空切片
//
// Required 的关联会丢弃没有子记录的主记录。
func (m *model) loadIncludes(ctx context.Context, rows []orm.Row, includes []orm.Include, tx orm.ITx) ([]orm.Row, error) {
	for _, inc := range includes {
		rel, ok := m.s.Relation(inc.Relation)
		if !ok {
			return nil, errors.NewNotFoundError(fmt.Sprintf("实体 %s 的关联 %s", m.s.Name, inc.Relation))
		}
		target, ok := m.engine.lookup(rel.Target)
		if !ok {
			return nil, errors.NewNotFoundError(rel.Target)
		}

		local := m.localKey(rel)
		remote := rel.ForeignKey
		if rel.Kind == schema.BelongsTo {
			remote = rel.TargetKey
			if remote == "" {
				remote = target.s.PrimaryKey().Name
			}
		}

		keys := make([]any, 0, len(rows))
		seen := make(map[string]bool, len(rows))
		for _, r := range rows {
			k := r[local]
			if k == nil || seen[keyOf(k)] {
				continue
			}
			seen[keyOf(k)] = true
			keys = append(keys, k)
		}

		grouped := make(map[string][]orm.Row)
		if len(keys) > 0 {
			attrs := inc.Attributes
			if len(attrs) > 0 {
				attrs = append(append([]string(nil), attrs...), remote)
			}
			children, err := target.FindAll(ctx, orm.FindOptions{
				Where:      orm.And(orm.Leaf(remote, orm.OpIn, keys), inc.Where),
				Attributes: dedupe(attrs),
				Order:      []orm.OrderBy{{Column: target.s.PrimaryKey().Name}},
				Unscoped:   inc.Unscoped,
				Include:    inc.Include,
				Tx:         tx,
			})
			if err != nil {
				return nil, err
			}
			for _, c := range children {
				k := keyOf(c[remote])
				grouped[k] = append(grouped[k], c)
			}
		}

		kept := rows[:0]
		for _, r := range rows {
			var matched []orm.Row
			if k := r[local]; k != nil {
				matched = grouped[keyOf(k)]
			}
			if inc.Required && len(matched) == 0 {
				continue
			}
			if rel.Kind == schema.HasMany {
				if matched == nil {
					matched = []orm.Row{}
				}
				r[rel.Name] = matched
			} else if len(matched) > 0 {
				r[rel.Name] = matched[0]
			} else {
				r[rel.Name] = nil
			}
			kept = append(kept, r)
		}
		rows = kept
	}
	return rows, nil
}

// keyOf 关联键的比较形式：int64(1) 与 float64(1) 视为同一个键
func keyOf(v any) string {
	return fmt.Sprint(v)
}

func dedupe(names []string) []string {
	if len(names) == 0 {
		return names
	}
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
