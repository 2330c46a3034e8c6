package extract

import (
	"context"
	"strings"

	"github.com/koustreak/pgextract/internal/canonical"
)

// typeBatch collects type references from every extracted object so they
// can be canonicalized in one round trip.
type typeBatch struct {
	refs  []string
	index map[string]int
	types []canonical.Type
}

func newTypeBatch() *typeBatch {
	return &typeBatch{index: make(map[string]int)}
}

func (b *typeBatch) add(ref string) {
	if _, ok := b.index[ref]; ok {
		return
	}
	b.index[ref] = len(b.refs)
	b.refs = append(b.refs, ref)
}

func (b *typeBatch) resolve(ctx context.Context, c *canonical.Canonicalizer) error {
	types, err := c.Canonicalize(ctx, b.refs)
	if err != nil {
		return err
	}
	b.types = types
	return nil
}

// get returns the resolved type of a reference added before resolve.
func (b *typeBatch) get(ref string) canonical.Type {
	i, ok := b.index[ref]
	if !ok || i >= len(b.types) {
		return nil
	}
	return b.types[i]
}

// qualifiedRef builds a type reference to a named catalog type that
// to_regtype accepts regardless of case or special characters.
func qualifiedRef(schemaName, name string) string {
	return quoteIdent(schemaName) + "." + quoteIdent(name)
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
