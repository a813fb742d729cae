package indexing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/actoridx/model"
)

// consistency is the lazy-update strategy of an entity type.
type consistency interface {
	applyLazy(ctx context.Context, c coordinator, host Host, updates Updates, tentative bool, persist func(context.Context) error) error
}

// coordinator is the part of Coordinator the strategies use.
type coordinator interface {
	isUnique(index string) bool
}

func (c *Coordinator[T]) isUnique(index string) bool {
	return c.indexes[index].Meta().Unique
}

// records builds one workflow record per interface. skip filters records
// out before they get an ID.
func records(host Host, updates Updates, skip func(map[string]model.MemberUpdate) bool) []*model.WorkflowRecord {
	out := make([]*model.WorkflowRecord, 0, len(updates.ByInterface))
	for iface, byIndex := range updates.ByInterface {
		if skip != nil && skip(byIndex) {
			continue
		}
		out = append(out, model.NewWorkflowRecord(host.Ref(), iface, byIndex))
	}
	return out
}

func enqueueAll(ctx context.Context, host Host, recs []*model.WorkflowRecord) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range recs {
		g.Go(func() error {
			q, err := host.Queue(gctx, r.Interface)
			if err != nil {
				return fmt.Errorf("queue %s: %w", r.Interface, err)
			}
			return q.Enqueue(gctx, r)
		})
	}
	return g.Wait()
}

// nonFaultTolerant enqueues records and persists the entity concurrently.
// A crash between the two can lose or orphan a lazy update.
type nonFaultTolerant struct{}

func (nonFaultTolerant) applyLazy(ctx context.Context, c coordinator, host Host, updates Updates, tentative bool, persist func(context.Context) error) error {
	recs := records(host, updates, func(byIndex map[string]model.MemberUpdate) bool {
		if tentative {
			return false
		}
		for name := range byIndex {
			if !c.isUnique(name) {
				return false
			}
		}
		return true
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return persist(gctx) })
	g.Go(func() error { return enqueueAll(gctx, host, recs) })
	return g.Wait()
}

// faultTolerant makes every record durable before the entity state, and
// tracks the record IDs in the entity's active set until the handler
// confirms them.
type faultTolerant struct{}

func (faultTolerant) applyLazy(ctx context.Context, _ coordinator, host Host, updates Updates, _ bool, persist func(context.Context) error) error {
	recs := records(host, updates, nil)
	if err := enqueueAll(ctx, host, recs); err != nil {
		return err
	}

	ids := make([]uuid.UUID, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	host.AddActive(ids...)

	if err := persist(ctx); err != nil {
		host.RemoveActive(ids...)
		return err
	}
	return nil
}
