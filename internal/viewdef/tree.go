package viewdef

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// The pg_query tree is a protobuf mirror of the PostgreSQL parse tree. The
// lineage walk only needs a handful of node shapes, so the tree is first
// converted into the small model below by the accessor functions in this
// file. Anything the model does not name becomes exprOther or an opaque
// range entry.

// selectNode is one SELECT, or a set operation over two of them.
type selectNode struct {
	left, right *selectNode // set when this node is UNION / INTERSECT / EXCEPT
	with        []cteNode
	recursive   bool // WITH RECURSIVE
	from        []rangeEntry // join trees are flattened
	targets     []target
}

func (s *selectNode) isSetOp() bool { return s.left != nil && s.right != nil }

type cteNode struct {
	name    string
	columns []string // explicit column aliases, WITH c(a, b) AS (...)
	body    *selectNode
}

// rangeEntry is one relation visible in a FROM clause. Opaque entries
// (sub-selects, set-returning functions) have an empty relation.
type rangeEntry struct {
	alias    string
	columns  []string // column aliases, FROM users u(a, b), renaming by position
	schema   string
	relation string
}

// name is how the entry is referred to by qualified column references.
func (r rangeEntry) name() string {
	if r.alias != "" {
		return r.alias
	}
	return r.relation
}

func (r rangeEntry) opaque() bool { return r.relation == "" }

type target struct {
	alias string
	expr  expr
}

type exprKind int

const (
	exprOther  exprKind = iota
	exprColumn          // fields holds the dotted name
	exprStar            // fields holds the qualifier, if any
	exprFunc            // name holds the function name
	exprCast            // inner holds the cast operand
)

type expr struct {
	kind   exprKind
	fields []string
	name   string
	inner  *expr
}

// --- accessors ---

func toSelect(stmt *pg_query.SelectStmt) *selectNode {
	if stmt == nil {
		return nil
	}
	node := &selectNode{}

	if stmt.Op != pg_query.SetOperation_SETOP_NONE && stmt.Larg != nil && stmt.Rarg != nil {
		node.left = toSelect(stmt.Larg)
		node.right = toSelect(stmt.Rarg)
	}

	if wc := stmt.GetWithClause(); wc != nil {
		node.recursive = wc.Recursive
		for _, n := range wc.Ctes {
			if cte := toCTE(n); cte != nil {
				node.with = append(node.with, *cte)
			}
		}
	}

	for _, n := range stmt.FromClause {
		node.from = append(node.from, toRangeEntries(n)...)
	}

	for _, n := range stmt.TargetList {
		if rt := n.GetResTarget(); rt != nil {
			node.targets = append(node.targets, target{alias: rt.Name, expr: toExpr(rt.Val)})
		}
	}
	return node
}

func toCTE(n *pg_query.Node) *cteNode {
	cte := n.GetCommonTableExpr()
	if cte == nil {
		return nil
	}
	body := cte.GetCtequery().GetSelectStmt()
	if body == nil {
		// Data-modifying CTEs (INSERT ... RETURNING) carry no lineage.
		return &cteNode{name: cte.Ctename}
	}
	return &cteNode{
		name:    cte.Ctename,
		columns: stringValues(cte.Aliascolnames),
		body:    toSelect(body),
	}
}

func toRangeEntries(n *pg_query.Node) []rangeEntry {
	switch v := n.GetNode().(type) {
	case *pg_query.Node_RangeVar:
		rv := v.RangeVar
		return []rangeEntry{{
			alias:    aliasName(rv.Alias),
			columns:  stringValues(rv.GetAlias().GetColnames()),
			schema:   rv.Schemaname,
			relation: rv.Relname,
		}}
	case *pg_query.Node_JoinExpr:
		var out []rangeEntry
		out = append(out, toRangeEntries(v.JoinExpr.Larg)...)
		out = append(out, toRangeEntries(v.JoinExpr.Rarg)...)
		return out
	case *pg_query.Node_RangeSubselect:
		return []rangeEntry{{alias: aliasName(v.RangeSubselect.Alias)}}
	case *pg_query.Node_RangeFunction:
		return []rangeEntry{{alias: aliasName(v.RangeFunction.Alias)}}
	default:
		return []rangeEntry{{}}
	}
}

func aliasName(a *pg_query.Alias) string {
	if a == nil {
		return ""
	}
	return a.Aliasname
}

func toExpr(n *pg_query.Node) expr {
	switch v := n.GetNode().(type) {
	case *pg_query.Node_ColumnRef:
		var fields []string
		for _, f := range v.ColumnRef.Fields {
			if f.GetAStar() != nil {
				return expr{kind: exprStar, fields: fields}
			}
			if s := f.GetString_(); s != nil {
				fields = append(fields, s.Sval)
			}
		}
		return expr{kind: exprColumn, fields: fields}
	case *pg_query.Node_FuncCall:
		names := stringValues(v.FuncCall.Funcname)
		if len(names) == 0 {
			return expr{kind: exprOther}
		}
		return expr{kind: exprFunc, name: names[len(names)-1]}
	case *pg_query.Node_TypeCast:
		inner := toExpr(v.TypeCast.Arg)
		return expr{kind: exprCast, inner: &inner}
	default:
		return expr{kind: exprOther}
	}
}

func stringValues(nodes []*pg_query.Node) []string {
	var out []string
	for _, n := range nodes {
		if s := n.GetString_(); s != nil {
			out = append(out, s.Sval)
		}
	}
	return out
}
