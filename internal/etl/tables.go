package etl

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"strikeoffetl/internal/config"
	"strikeoffetl/internal/ddl"
	"strikeoffetl/internal/mapping"
	"strikeoffetl/internal/metrics"
	"strikeoffetl/internal/relationalize"
	"strikeoffetl/internal/storage"
	"strikeoffetl/internal/transformer"
	"strikeoffetl/internal/transformer/builtin"
)

// tablePlan is a destination table with its mapping resolved.
type tablePlan struct {
	config.Table
	mapping *mapping.Mapping
}

// planTables resolves every table's mapping up front so a bad mapping
// reference fails before any input is read.
func planTables(p config.Pipeline) ([]tablePlan, error) {
	plans := make([]tablePlan, 0, len(p.Tables))
	for _, t := range p.Tables {
		m, err := mapping.Load(t.Mapping)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", t.Name, err)
		}
		for _, k := range t.KeyColumns {
			if !lo.Contains(m.Columns(), k) {
				return nil, fmt.Errorf("table %s: key column %q is not mapped", t.Name, k)
			}
		}
		plans = append(plans, tablePlan{Table: t, mapping: m})
	}
	return plans, nil
}

// buildTables runs one stream per table. Streams only read the shared
// frames; the result keeps the declared table order.
func buildTables(ctx context.Context, frames relationalize.Frames, plans []tablePlan, job string, log *zap.Logger) ([]storage.Load, error) {
	loads := make([]storage.Load, len(plans))
	g, ctx := errgroup.WithContext(ctx)
	for i, plan := range plans {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			l, err := buildTable(frames, plan, job, log.With(zap.String("table", plan.Name)))
			if err != nil {
				return fmt.Errorf("table %s: %w", plan.Name, err)
			}
			loads[i] = l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return loads, nil
}

func buildTable(frames relationalize.Frames, plan tablePlan, job string, log *zap.Logger) (storage.Load, error) {
	frame, err := selectFrame(frames, plan.Frame)
	if err != nil {
		return storage.Load{}, err
	}

	var (
		chain  transformer.Chain
		filter *builtin.DropPlaceholders
		join   *builtin.Join
	)
	if plan.Filter != nil {
		filter = &builtin.DropPlaceholders{Field: plan.Filter.Field}
		chain = append(chain, transformer.Step{Name: "filter", T: filter})
	}
	if plan.Join != nil {
		right, err := selectFrame(frames, plan.Join.Frame)
		if err != nil {
			return storage.Load{}, fmt.Errorf("join: %w", err)
		}
		join = &builtin.Join{
			Right:      right.Rows,
			RightFrame: right.Name,
			LeftKey:    plan.Join.LeftKey,
			RightKey:   plan.Join.RightKey,
			Policy:     plan.Join.Duplicates,
		}
		chain = append(chain, transformer.Step{Name: "join", T: join})
	}

	rows, err := chain.Observe(frame.Rows, func(step string, n int) {
		log.Debug("transform: step", zap.String("step", step), zap.Int("rows", n))
	})
	if err != nil {
		return storage.Load{}, err
	}
	if filter != nil && filter.Dropped > 0 {
		metrics.RecordRows(job, plan.Name, "dropped", int64(filter.Dropped))
	}
	if join != nil && join.Unmatched > 0 {
		metrics.RecordRows(job, plan.Name, "unmatched", int64(join.Unmatched))
		log.Warn("transform: rows without parent dropped", zap.Int("rows", join.Unmatched))
	}

	rel, err := plan.mapping.Apply(rows)
	if err != nil {
		return storage.Load{}, fmt.Errorf("map: %w", err)
	}
	rel.Name = plan.Name

	uniq := &builtin.Unique{Keys: plan.KeyColumns, Policy: plan.Duplicates}
	if rel, err = uniq.Apply(rel); err != nil {
		return storage.Load{}, err
	}
	prune := &builtin.Prune{Mode: plan.Prune, Nullable: plan.mapping.Nullable()}
	if rel, err = prune.Apply(rel); err != nil {
		return storage.Load{}, err
	}

	log.Info("transform: done",
		zap.String("frame", plan.Frame),
		zap.Int("in", len(frame.Rows)),
		zap.Int("out", len(rel.Rows)),
		zap.Int("duplicates_removed", uniq.Removed),
		zap.Strings("dropped_columns", prune.Dropped))
	metrics.RecordRows(job, plan.Name, "deduplicated", int64(uniq.Removed))

	var pre []string
	if plan.Preactions != "" {
		pre = []string{plan.Preactions}
	}
	return storage.Load{Table: rel.Name, Columns: rel.Columns, Rows: rel.Rows, Preactions: pre}, nil
}

// selectFrame returns the named frame. A child frame of the root that no
// document produced is empty rather than unknown.
func selectFrame(frames relationalize.Frames, name string) (relationalize.Frame, error) {
	f, err := frames.Select(name)
	if errors.Is(err, relationalize.ErrUnknownFrame) && strings.HasPrefix(name, frames.Names()[0]+"_") {
		return relationalize.Frame{Name: name}, nil
	}
	return f, err
}

// ensureTables creates missing destination tables. Columns removed by
// drop_null_fields pruning are left out so the table matches what is
// written. Key columns form the primary key unless duplicates are crossed.
func ensureTables(ctx context.Context, kind string, w storage.Writer, plans []tablePlan, loads []storage.Load) error {
	d, err := storage.DialectFor(kind)
	if err != nil {
		return err
	}
	defs := make([]ddl.TableDef, len(plans))
	for i, plan := range plans {
		keys := plan.KeyColumns
		if plan.Duplicates == config.DuplicatesCross {
			keys = nil
		}
		def, err := ddl.FromMapping(d, plan.mapping, keys)
		if err != nil {
			return err
		}
		def.FQN = plan.Name
		def.Columns = lo.Filter(def.Columns, func(c ddl.ColumnDef, _ int) bool {
			return lo.Contains(loads[i].Columns, c.Name)
		})
		defs[i] = def
	}
	return storage.EnsureTables(ctx, kind, w, defs)
}
