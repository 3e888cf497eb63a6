package spanindex

import (
	"context"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Aggregator collects an entity's rows from every registered file.
type Aggregator struct {
	r           *Retriever
	concurrency int
}

// Result holds an entity's rows across files.
type Result struct {
	EntityID int64

	// Files maps file ids to rows. Files without rows for the entity are omitted.
	Files map[string]*Rows

	// Skipped maps file ids to the error that prevented reading them.
	Skipped map[string]error

	order []string
}

func newResult(entityID int64, order []string) *Result {
	return &Result{
		EntityID: entityID,
		Files:    make(map[string]*Rows),
		Skipped:  make(map[string]error),
		order:    order,
	}
}

// FileIDs returns the ids of files with rows, in registry order.
func (r *Result) FileIDs() []string {
	var ids []string
	for _, id := range r.order {
		if _, ok := r.Files[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// SkippedIDs returns the ids of skipped files, in registry order.
func (r *Result) SkippedIDs() []string {
	var ids []string
	for _, id := range r.order {
		if _, ok := r.Skipped[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len returns the total number of rows across files.
func (r *Result) Len() int {
	n := 0
	for _, rows := range r.Files {
		n += rows.Len()
	}
	return n
}

// Err combines the errors of skipped files, or returns nil.
func (r *Result) Err() error {
	var err error
	for _, id := range r.SkippedIDs() {
		err = multierr.Append(err, r.Skipped[id])
	}
	return err
}

// GetAllData searches every registered file for entityID.
//
// Files are searched concurrently. A file that fails, for example because
// it was never indexed, is recorded in Result.Skipped and does not fail the
// call. The returned error is non-nil only when ctx is done.
func (a *Aggregator) GetAllData(ctx context.Context, entityID int64) (*Result, error) {
	ids := a.r.x.reg.IDs()
	rows := make([]*Rows, len(ids))
	errs := make([]error, len(ids))

	var g errgroup.Group
	g.SetLimit(max(a.concurrency, 1))
	for i, id := range ids {
		g.Go(func() error {
			rows[i], errs[i] = a.r.Search(ctx, id, entityID)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers report through errs
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := newResult(entityID, ids)
	for i, id := range ids {
		switch {
		case errs[i] != nil:
			res.Skipped[id] = errs[i]
			a.r.x.log().Debug("file skipped", "file", id, "entity", entityID, "error", errs[i])
		case rows[i].Len() > 0:
			res.Files[id] = rows[i]
		}
	}
	return res, nil
}
