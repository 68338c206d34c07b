package main

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/dbzero-io/corestore/ft"
	"github.com/dbzero-io/corestore/invertedindex"
)

// tagQueryLexer tokenizes a small boolean query language over tag names,
// grounded on dumbdb's query.go (lexer.MustSimple + participle keywords
// matched against Ident tokens).
var tagQueryLexer = lexer.MustSimple([]lexer.Rule{
	{Name: "Keyword", Pattern: `(?:ANDNOT|AND|OR)\b`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_:.\-]*`},
	{Name: "Punct", Pattern: `[()]`},
	{Name: "whitespace", Pattern: `\s+`},
})

// tagTerm is either a bare tag name or a parenthesized sub-query.
type tagTerm struct {
	Tag   *string   `  @Ident`
	Group *tagQuery `| "(" @@ ")"`
}

// tagOp chains a boolean operator onto the term that follows it.
type tagOp struct {
	Op   string  `@("ANDNOT" | "AND" | "OR")`
	Term tagTerm `@@`
}

// tagQuery is left-associative: Left (Op Term)*, evaluated in source
// order, mirroring dumbdb's Expression/Disj/Conj chain shape but flattened
// to one precedence level since AND/OR/ANDNOT here have no arithmetic
// counterpart to stay compatible with.
type tagQuery struct {
	Left tagTerm `@@`
	Rest []tagOp `@@*`
}

var tagQueryParser = participle.MustBuild(&tagQuery{},
	participle.Lexer(tagQueryLexer),
)

// parseTagQuery parses a query string like "a AND (b OR c) ANDNOT d".
func parseTagQuery(query string) (*tagQuery, error) {
	q := &tagQuery{}
	if err := tagQueryParser.ParseString("", query, q); err != nil {
		return nil, err
	}
	return q, nil
}

// buildIterator compiles q into an ft.Iterator[uint64] over ix's posting
// lists, one leaf per tag name, combined via ft.AndIterator/OrIterator/
// AndNotIterator per operator, left to right.
func buildIterator(q *tagQuery, ix *invertedindex.Index[string], dir ft.Direction) ft.Iterator[uint64] {
	cur := buildTerm(&q.Left, ix, dir)
	for _, op := range q.Rest {
		rhs := buildTerm(&op.Term, ix, dir)
		switch op.Op {
		case "AND":
			cur = ft.NewAndIterator([]ft.Iterator[uint64]{cur, rhs}, dir, true)
		case "OR":
			cur = ft.NewOrIterator([]ft.Iterator[uint64]{cur, rhs}, dir, true)
		case "ANDNOT":
			cur = ft.NewAndNotIterator(cur, []ft.Iterator[uint64]{rhs}, dir)
		}
	}
	return cur
}

func buildTerm(t *tagTerm, ix *invertedindex.Index[string], dir ft.Direction) ft.Iterator[uint64] {
	if t.Group != nil {
		return buildIterator(t.Group, ix, dir)
	}
	list, ok := ix.TryGetExistingInvertedList(*t.Tag)
	if !ok {
		list = invertedindex.NewPostingList()
	}
	return list.Iterator(dir)
}

// collectResults walks it from its current position to the end in dir (or
// until limit values have been gathered, 0 meaning unlimited), returning
// the keys it visited.
func collectResults(it ft.Iterator[uint64], dir ft.Direction, limit int) []uint64 {
	var out []uint64
	for !it.IsEnd() {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, it.GetKey())
		if !it.Advance(dir) {
			break
		}
	}
	return out
}
