package index

import "github.com/tscoredb/engine/errs"

// TermQuery names one (column, term) pair to evaluate; QType selects how
// term is matched against the column's stored values.
type TermQuery struct {
	Col   string
	Term  []byte
	Upper []byte // used only when QType is range
	QType QType
}

type QType int

const (
	QEqual QType = iota
	QRange
	QPrefix
)

// MultiTermQuery combines several TermQuery results with a single boolean
// Combinator (MUST/SHOULD/NOT), mirroring index_multi_term_query_create/
// add/destroy.
type MultiTermQuery struct {
	terms []TermQuery
	op    Combinator
}

func NewMultiTermQuery(op Combinator) *MultiTermQuery {
	return &MultiTermQuery{op: op}
}

func (q *MultiTermQuery) Add(t TermQuery) { q.terms = append(q.terms, t) }

// Eval runs every term query against idx and combines the per-term
// posting lists with q's operator. MUST/SHOULD/NOT are evaluated exactly
// as index/merge.go's Combine defines them; an empty query evaluates to
// an empty result rather than an error.
func (idx *Index) Eval(q *MultiTermQuery) ([]uint64, error) {
	if len(q.terms) == 0 {
		return nil, nil
	}
	lists := make([][]uint64, 0, len(q.terms))
	for _, t := range q.terms {
		list, err := idx.evalOne(t)
		if err != nil {
			return nil, err
		}
		lists = append(lists, list)
	}
	return Combine(q.op, lists...), nil
}

func (idx *Index) evalOne(t TermQuery) ([]uint64, error) {
	switch t.QType {
	case QEqual:
		return idx.Search(t.Col, t.Term)
	case QRange:
		return idx.searchRange(t.Col, t.Term, t.Upper)
	case QPrefix:
		return idx.searchPrefix(t.Col, t.Term)
	default:
		return nil, errs.ErrInvalidArgument
	}
}

func (idx *Index) searchRange(col string, lower, upper []byte) ([]uint64, error) {
	c := idx.columnLocked(col)
	if c == nil {
		return nil, nil
	}
	c.mu.Lock()
	active, reader := c.active, c.reader
	c.mu.Unlock()

	lists := active.SearchRange(lower, upper)
	if reader != nil {
		reader.Ref()
		segLists := reader.SearchRange(lower, upper)
		reader.Unref()
		lists = append(lists, segLists...)
	}
	return Combine(Should, lists...), nil
}

func (idx *Index) searchPrefix(col string, prefix []byte) ([]uint64, error) {
	c := idx.columnLocked(col)
	if c == nil {
		return nil, nil
	}
	c.mu.Lock()
	active, reader := c.active, c.reader
	c.mu.Unlock()

	lists := active.SearchPrefix(prefix)
	if reader != nil {
		reader.Ref()
		segLists := reader.SearchPrefix(prefix)
		reader.Unref()
		lists = append(lists, segLists...)
	}
	return Combine(Should, lists...), nil
}
