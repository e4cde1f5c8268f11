package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/validator"
	"go.uber.org/zap"

	"github.com/feral-file/ff-agent-market/internal/logger"
)

// Executor parses, validates and executes read-only GraphQL operations
type Executor interface {
	Execute(ctx context.Context, params *graphql.RawParams) *graphql.Response
}

type executor struct {
	schema   *ast.Schema
	resolver *Resolver
}

// NewExecutor creates an executor over the marketplace schema
func NewExecutor(resolver *Resolver) (Executor, error) {
	schema, err := LoadSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	return &executor{
		schema:   schema,
		resolver: resolver,
	}, nil
}

func (e *executor) Execute(ctx context.Context, params *graphql.RawParams) *graphql.Response {
	if strings.TrimSpace(params.Query) == "" {
		return errorResponse(gqlerror.Errorf("no query provided"))
	}

	doc, errs := gqlparser.LoadQuery(e.schema, params.Query)
	if len(errs) > 0 {
		return &graphql.Response{Errors: errs}
	}

	op := doc.Operations.ForName(params.OperationName)
	if op == nil {
		if params.OperationName == "" {
			return errorResponse(gqlerror.Errorf("operation name is required when the document has several operations"))
		}
		return errorResponse(gqlerror.Errorf("operation %s not found", params.OperationName))
	}
	if op.Operation != ast.Query {
		return errorResponse(gqlerror.ErrorPosf(op.Position, "%s operations are not supported", op.Operation))
	}

	vars, varErr := validator.VariableValues(e.schema, op, params.Variables)
	if varErr != nil {
		return errorResponse(varErr)
	}

	run := &execution{
		resolver: e.resolver,
		vars:     vars,
	}
	data := run.executeQuery(ctx, op.SelectionSet)

	resp := &graphql.Response{Errors: run.errors}
	if data == nil {
		resp.Data = json.RawMessage("null")
		return resp
	}

	raw, err := json.Marshal(data)
	if err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("failed to encode response: %w", err))
		return errorResponse(ErrorPresenter(ctx, err))
	}
	resp.Data = raw

	logger.DebugCtx(ctx, "Executed GraphQL operation",
		zap.String("operation", op.Name),
		zap.Int("errors", len(run.errors)),
	)

	return resp
}

func errorResponse(err error) *graphql.Response {
	gqlErr, ok := err.(*gqlerror.Error)
	if !ok {
		gqlErr = gqlerror.Wrap(err)
	}
	return &graphql.Response{Errors: gqlerror.List{gqlErr}}
}

// execution is the state of one operation
type execution struct {
	resolver *Resolver
	vars     map[string]interface{}
	errors   gqlerror.List
}

// executeQuery resolves the root fields in order. A failed non-null root field nulls
// the whole data object.
func (x *execution) executeQuery(ctx context.Context, selections ast.SelectionSet) *object {
	data := &object{}
	for _, group := range x.collectFields(selections, "Query") {
		field := group.fields[0]

		switch field.Name {
		case "__typename":
			data.set(group.key, "Query")
			continue
		case "__schema", "__type":
			x.addError(ctx, ErrIntrospectionUnsupported, field, ast.Path{ast.PathName(group.key)})
			data.set(group.key, nil)
			continue
		}

		value, err := x.resolveField(ctx, field)
		if err != nil {
			x.addError(ctx, err, field, ast.Path{ast.PathName(group.key)})
			if field.Definition != nil && field.Definition.Type.NonNull {
				return nil
			}
			data.set(group.key, nil)
			continue
		}

		data.set(group.key, x.complete(value, group.selections()))
	}
	return data
}

func (x *execution) resolveField(ctx context.Context, field *ast.Field) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoverResolver(ctx, r)
		}
	}()
	return x.resolver.resolveRoot(ctx, field.Name, field.ArgumentMap(x.vars))
}

// complete projects resolved entities onto the selected fields
func (x *execution) complete(value interface{}, selections ast.SelectionSet) interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case *entity:
		if v == nil {
			return nil
		}
		out := &object{}
		for _, group := range x.collectFields(selections, v.typeName) {
			name := group.fields[0].Name
			if name == "__typename" {
				out.set(group.key, v.typeName)
				continue
			}
			out.set(group.key, v.fields[name])
		}
		return out
	case []*entity:
		out := make([]interface{}, 0, len(v))
		for _, item := range v {
			out = append(out, x.complete(item, selections))
		}
		return out
	default:
		return v
	}
}

func (x *execution) addError(ctx context.Context, err error, field *ast.Field, path ast.Path) {
	presented := ErrorPresenter(ctx, err)
	if presented.Path == nil {
		presented.Path = path
	}
	if len(presented.Locations) == 0 && field.Position != nil {
		presented.Locations = []gqlerror.Location{{Line: field.Position.Line, Column: field.Position.Column}}
	}
	x.errors = append(x.errors, presented)
}

// fieldGroup is every field selected under one response key
type fieldGroup struct {
	key    string
	fields []*ast.Field
}

func (g *fieldGroup) selections() ast.SelectionSet {
	if len(g.fields) == 1 {
		return g.fields[0].SelectionSet
	}
	var merged ast.SelectionSet
	for _, f := range g.fields {
		merged = append(merged, f.SelectionSet...)
	}
	return merged
}

// collectFields flattens fragments and applies @skip and @include, keeping the
// order in which response keys first appear.
func (x *execution) collectFields(selections ast.SelectionSet, typeName string) []*fieldGroup {
	var groups []*fieldGroup
	index := map[string]*fieldGroup{}
	visited := map[string]bool{}

	var walk func(ast.SelectionSet)
	walk = func(set ast.SelectionSet) {
		for _, sel := range set {
			switch sel := sel.(type) {
			case *ast.Field:
				if !x.included(sel.Directives) {
					continue
				}
				key := sel.Alias
				if key == "" {
					key = sel.Name
				}
				if g, ok := index[key]; ok {
					g.fields = append(g.fields, sel)
					continue
				}
				g := &fieldGroup{key: key, fields: []*ast.Field{sel}}
				index[key] = g
				groups = append(groups, g)
			case *ast.InlineFragment:
				if !x.included(sel.Directives) || !typeMatches(sel.TypeCondition, typeName) {
					continue
				}
				walk(sel.SelectionSet)
			case *ast.FragmentSpread:
				if !x.included(sel.Directives) || visited[sel.Name] || sel.Definition == nil {
					continue
				}
				visited[sel.Name] = true
				if !typeMatches(sel.Definition.TypeCondition, typeName) {
					continue
				}
				walk(sel.Definition.SelectionSet)
			}
		}
	}
	walk(selections)

	return groups
}

func (x *execution) included(directives ast.DirectiveList) bool {
	if d := directives.ForName("skip"); d != nil {
		if skip, _ := d.ArgumentMap(x.vars)["if"].(bool); skip {
			return false
		}
	}
	if d := directives.ForName("include"); d != nil {
		if include, _ := d.ArgumentMap(x.vars)["if"].(bool); !include {
			return false
		}
	}
	return true
}

func typeMatches(condition, typeName string) bool {
	return condition == "" || condition == typeName
}

// object is a JSON object that keeps its keys in selection order
type object struct {
	keys   []string
	values map[string]interface{}
}

func (o *object) set(key string, value interface{}) {
	if o.values == nil {
		o.values = map[string]interface{}{}
	}
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
}

// MarshalJSON implements json.Marshaler
func (o *object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(o.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
