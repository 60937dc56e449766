package compiler

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
)

// functions available to templates and conditions.
var functions = map[string]function.Function{
	"upper":      stdlib.UpperFunc,
	"lower":      stdlib.LowerFunc,
	"length":     stdlib.LengthFunc,
	"keys":       stdlib.KeysFunc,
	"contains":   stdlib.ContainsFunc,
	"coalesce":   stdlib.CoalesceFunc,
	"format":     stdlib.FormatFunc,
	"jsonencode": stdlib.JSONEncodeFunc,
}

// Scope is what a binding sees when it is resolved: the flow input and the
// outputs of the nodes that have completed so far.
type Scope struct {
	Input   any
	Outputs map[string]any
}

func (s Scope) has(root string) bool {
	if root == domain.InputRef {
		return true
	}
	_, ok := s.Outputs[root]
	return ok
}

func (s Scope) evalContext(roots []string) (*hcl.EvalContext, error) {
	vars := make(map[string]cty.Value, len(roots))
	for _, root := range roots {
		var v any
		if root == domain.InputRef {
			v = s.Input
		} else {
			v = s.Outputs[root]
		}
		val, err := ToCty(v)
		if err != nil {
			return nil, fmt.Errorf("binding %q: %w", root, err)
		}
		vars[root] = val
	}
	return &hcl.EvalContext{Variables: vars, Functions: functions}, nil
}

// expression is a parsed HCL expression plus the roots it references.
type expression struct {
	source string
	expr   hclsyntax.Expression
	refs   []hcl.Traversal
	roots  []string
}

func parseExpression(where, src string, template bool) (*expression, error) {
	var (
		expr  hclsyntax.Expression
		diags hcl.Diagnostics
	)
	if template {
		expr, diags = hclsyntax.ParseTemplate([]byte(src), where, hcl.Pos{Line: 1, Column: 1})
	} else {
		expr, diags = hclsyntax.ParseExpression([]byte(src), where, hcl.Pos{Line: 1, Column: 1})
	}
	if diags.HasErrors() {
		return nil, &domain.ExpressionError{Where: where, Err: diags}
	}

	if diags := hclsyntax.VisitAll(expr, func(n hclsyntax.Node) hcl.Diagnostics {
		call, ok := n.(*hclsyntax.FunctionCallExpr)
		if !ok {
			return nil
		}
		if _, known := functions[call.Name]; known {
			return nil
		}
		return hcl.Diagnostics{{
			Severity: hcl.DiagError,
			Summary:  "Call to unknown function",
			Detail:   fmt.Sprintf("There is no function named %q.", call.Name),
		}}
	}); diags.HasErrors() {
		return nil, &domain.ExpressionError{Where: where, Err: diags}
	}

	e := &expression{source: src, expr: expr, refs: expr.Variables()}
	seen := make(map[string]bool)
	for _, t := range e.refs {
		if root := t.RootName(); !seen[root] {
			seen[root] = true
			e.roots = append(e.roots, root)
		}
	}
	sort.Strings(e.roots)
	return e, nil
}

// check verifies every root names the flow input or a declared node.
func (e *expression) check(where string, nodes map[string]bool) error {
	for _, root := range e.roots {
		if root != domain.InputRef && !nodes[root] {
			return &domain.UnknownReferenceError{Where: where, Reference: root}
		}
	}
	return nil
}

func (e *expression) eval(nodeID string, scope Scope) (cty.Value, error) {
	for _, t := range e.refs {
		if !scope.has(t.RootName()) {
			return cty.NilVal, &domain.UnresolvedBindingError{NodeID: nodeID, Reference: traversalKey(t)}
		}
	}
	ctx, err := scope.evalContext(e.roots)
	if err != nil {
		return cty.NilVal, err
	}
	val, diags := e.expr.Value(ctx)
	if diags.HasErrors() {
		// A field that does not exist on a completed output is still unresolved.
		for _, t := range e.refs {
			if _, tdiags := t.TraverseAbs(ctx); tdiags.HasErrors() {
				return cty.NilVal, &domain.UnresolvedBindingError{NodeID: nodeID, Reference: traversalKey(t)}
			}
		}
		return cty.NilVal, fmt.Errorf("node %q: evaluating %q: %w", nodeID, e.source, diags)
	}
	return val, nil
}

// traversalKey renders a traversal the way it is written, e.g. fetch.body[0].
func traversalKey(t hcl.Traversal) string {
	return strings.TrimSpace(string(hclwrite.TokensForTraversal(t).Bytes()))
}

// Condition is a compiled `when` expression.
type Condition struct {
	*expression
}

func compileCondition(where, src string) (*Condition, error) {
	if strings.TrimSpace(src) == "" {
		return nil, nil
	}
	e, err := parseExpression(where, src, false)
	if err != nil {
		return nil, err
	}
	return &Condition{e}, nil
}

// Holds evaluates the condition. A nil condition always holds.
func (c *Condition) Holds(nodeID string, scope Scope) (bool, error) {
	if c == nil {
		return true, nil
	}
	val, err := c.eval(nodeID, scope)
	if err != nil {
		return false, err
	}
	if val.IsNull() {
		return false, fmt.Errorf("node %q: condition %q is null", nodeID, c.source)
	}
	b, err := convert.Convert(val, cty.Bool)
	if err != nil {
		return false, fmt.Errorf("node %q: condition %q is not a bool: %w", nodeID, c.source, err)
	}
	return b.True(), nil
}

// Template is a compiled node input. Strings anywhere inside the YAML value
// are HCL templates. A string holding a single interpolation keeps the type
// of the referenced value.
type Template struct {
	literal any
	expr    *expression
	list    []*Template
	fields  map[string]*Template
}

func compileTemplate(where string, v any) (*Template, error) {
	switch tv := v.(type) {
	case string:
		if !strings.Contains(tv, "${") && !strings.Contains(tv, "%{") {
			return &Template{literal: tv}, nil
		}
		e, err := parseExpression(where, tv, true)
		if err != nil {
			return nil, err
		}
		return &Template{expr: e}, nil
	case []any:
		t := &Template{list: make([]*Template, len(tv))}
		for i, item := range tv {
			child, err := compileTemplate(fmt.Sprintf("%s[%d]", where, i), item)
			if err != nil {
				return nil, err
			}
			t.list[i] = child
		}
		return t, nil
	case map[string]any:
		t := &Template{fields: make(map[string]*Template, len(tv))}
		for k, item := range tv {
			child, err := compileTemplate(where+"."+k, item)
			if err != nil {
				return nil, err
			}
			t.fields[k] = child
		}
		return t, nil
	default:
		return &Template{literal: v}, nil
	}
}

func (t *Template) walk(fn func(*expression) error) error {
	switch {
	case t == nil:
		return nil
	case t.expr != nil:
		return fn(t.expr)
	case t.list != nil:
		for _, c := range t.list {
			if err := c.walk(fn); err != nil {
				return err
			}
		}
	case t.fields != nil:
		for _, k := range sortedKeys(t.fields) {
			if err := t.fields[k].walk(fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// Resolve renders the template against scope.
func (t *Template) Resolve(nodeID string, scope Scope) (any, error) {
	switch {
	case t == nil:
		return nil, nil
	case t.expr != nil:
		val, err := t.expr.eval(nodeID, scope)
		if err != nil {
			return nil, err
		}
		return FromCty(val)
	case t.list != nil:
		out := make([]any, len(t.list))
		for i, c := range t.list {
			v, err := c.Resolve(nodeID, scope)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case t.fields != nil:
		out := make(map[string]any, len(t.fields))
		for _, k := range sortedKeys(t.fields) {
			v, err := t.fields[k].Resolve(nodeID, scope)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	default:
		return t.literal, nil
	}
}

// References lists the roots the template reads, sorted.
func (t *Template) References() []string {
	seen := make(map[string]bool)
	var out []string
	_ = t.walk(func(e *expression) error {
		for _, r := range e.roots {
			if !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
		return nil
	})
	sort.Strings(out)
	return out
}

// ToCty converts a JSON-compatible Go value into a cty value.
func ToCty(v any) (cty.Value, error) {
	if v == nil {
		return cty.NullVal(cty.DynamicPseudoType), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return cty.NilVal, err
	}
	ty, err := ctyjson.ImpliedType(data)
	if err != nil {
		return cty.NilVal, err
	}
	return ctyjson.Unmarshal(data, ty)
}

// FromCty converts a cty value back into plain Go values: maps, slices,
// strings, float64 and bools, the same shapes encoding/json produces.
func FromCty(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsWhollyKnown() {
		return nil, fmt.Errorf("value is not known")
	}
	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil
	case ty == cty.Number:
		f, _ := v.AsBigFloat().Float64()
		return f, nil
	case ty == cty.Bool:
		return v.True(), nil
	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			gv, err := FromCty(ev)
			if err != nil {
				return nil, err
			}
			out[k.AsString()] = gv
		}
		return out, nil
	case ty.IsTupleType() || ty.IsListType() || ty.IsSetType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			gv, err := FromCty(ev)
			if err != nil {
				return nil, err
			}
			out = append(out, gv)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported value type %s", ty.FriendlyName())
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
