package ecsflight

import "github.com/flightcore/ecsflight/internal/entityindex"

// QueryOption narrows a [Query] built by [Repo.Query]. Use [With] and
// [Without] to build the filter.
type QueryOption func(*Repo, *entityindex.Bitmap256, *entityindex.Bitmap256) error

// With requires the resulting entities to carry a T component.
func With[T any]() QueryOption {
	return func(r *Repo, with, _ *entityindex.Bitmap256) error {
		info, err := r.reg.Lookup(tokenOf[T]())
		if err != nil {
			return err
		}

		with.Set(int(info.TypeID))

		return nil
	}
}

// Without excludes entities carrying a T component.
func Without[T any]() QueryOption {
	return func(r *Repo, _, without *entityindex.Bitmap256) error {
		info, err := r.reg.Lookup(tokenOf[T]())
		if err != nil {
			return err
		}

		without.Set(int(info.TypeID))

		return nil
	}
}

// Query is a restartable, finite lazy sequence over entities whose
// header mask matches the built filter.
type Query struct {
	repo    *Repo
	with    entityindex.Bitmap256
	without entityindex.Bitmap256
	cursor  uint32
}

// Query builds (and immediately "build()"s) a query over opts.
func (r *Repo) Query(opts ...QueryOption) (*Query, error) {
	q := &Query{repo: r}

	for _, opt := range opts {
		if err := opt(r, &q.with, &q.without); err != nil {
			return nil, err
		}
	}

	return q, nil
}

// Reset restarts the sequence from the first slot.
func (q *Query) Reset() { q.cursor = 0 }

// Next advances to the next matching entity. Returns false when the
// sequence is exhausted.
func (q *Query) Next() (Entity, bool) {
	idx := q.repo.index

	for ; q.cursor < uint32(idx.NumChunks()*idx.Capacity()); q.cursor++ {
		slot := q.cursor

		h, err := idx.GetHeader(slot)
		if err != nil || !h.Active {
			continue
		}

		if !matches(h.ComponentMask, q.with, q.without) {
			continue
		}

		q.cursor++

		return Entity{Index: slot, Generation: h.Generation}, true
	}

	return Entity{}, false
}

func matches(mask, with, without entityindex.Bitmap256) bool {
	for i := 0; i < entityindex.MaxComponentTypes; i++ {
		if with.Test(i) && !mask.Test(i) {
			return false
		}

		if without.Test(i) && mask.Test(i) {
			return false
		}
	}

	return true
}
