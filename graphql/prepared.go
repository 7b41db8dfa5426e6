package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/maxpert/livefeed/errs"
	"github.com/maxpert/livefeed/executor"
	"github.com/maxpert/livefeed/record"
	"github.com/maxpert/livefeed/wire"
	"github.com/vektah/gqlparser/v2/ast"
)

// Prepared is a validated operation ready to run.
type Prepared struct {
	Kind wire.Kind
	Name string

	operation *ast.OperationDefinition
	vars      map[string]interface{}
	fields    []*ast.Field
	topic     string
}

// Topic returns the hub topic of a live operation, "" otherwise.
func (p *Prepared) Topic() string {
	return p.topic
}

// Execute resolves a read or write operation. Resolver failures are reported
// in the payload's errors, never as a Go error.
func (p *Prepared) Execute(ctx context.Context, ex *executor.Executor) wire.Payload {
	if p.Kind == wire.KindLive {
		return errorPayload(badRequest("subscriptions require the streaming transport"))
	}

	data := make(object, 0, len(p.fields))
	for _, f := range p.fields {
		value, err := p.resolveRoot(ctx, ex, f)
		if err != nil {
			list := ErrorList(err)
			for _, ge := range list {
				ge.Path = ast.Path{ast.PathName(f.Alias)}
			}
			return wire.Payload{Data: json.RawMessage("null"), Errors: list}
		}
		data = append(data, member{key: f.Alias, value: value})
	}
	return dataPayload(data)
}

// Project renders rec as one event of a live operation.
func (p *Prepared) Project(rec record.Record) wire.Payload {
	data := make(object, 0, len(p.fields))
	for _, f := range p.fields {
		if f.Name == fieldTypename {
			data = append(data, member{key: f.Alias, value: "Subscription"})
			continue
		}
		data = append(data, member{key: f.Alias, value: projectRecord(rec, f.SelectionSet, p.vars)})
	}
	return dataPayload(data)
}

func (p *Prepared) resolveRoot(ctx context.Context, ex *executor.Executor, f *ast.Field) (interface{}, error) {
	switch f.Name {
	case fieldTypename:
		if p.Kind == wire.KindWrite {
			return "Mutation", nil
		}
		return "Query", nil

	case fieldRecords:
		recs, err := ex.HandleQuery(ctx)
		if err != nil {
			return nil, err
		}
		list := make([]interface{}, 0, len(recs))
		for _, rec := range recs {
			list = append(list, projectRecord(rec, f.SelectionSet, p.vars))
		}
		return list, nil

	case fieldCreateRecord:
		args := f.ArgumentMap(p.vars)
		content, ok := args["content"].(string)
		if !ok {
			return nil, errs.InvalidInput(fieldCreateRecord, fmt.Errorf("content must be a string"))
		}
		rec, err := ex.HandleMutation(ctx, record.CreateInput{Content: content})
		if err != nil {
			return nil, err
		}
		return projectRecord(rec, f.SelectionSet, p.vars), nil
	}

	return nil, errs.NotFound(f.Name, fmt.Errorf("no resolver for field %q", f.Name))
}

func projectRecord(rec record.Record, sel ast.SelectionSet, vars map[string]interface{}) object {
	fields := collectFields(sel, vars)
	out := make(object, 0, len(fields))
	for _, f := range fields {
		switch f.Name {
		case "id":
			out = append(out, member{key: f.Alias, value: strconv.FormatUint(rec.ID, 10)})
		case "content":
			out = append(out, member{key: f.Alias, value: rec.Content})
		case fieldTypename:
			out = append(out, member{key: f.Alias, value: "Record"})
		}
	}
	return out
}

// collectFields flattens fragments and applies @skip / @include. A response
// key selected twice is kept once, at its first position.
func collectFields(sel ast.SelectionSet, vars map[string]interface{}) []*ast.Field {
	var out []*ast.Field
	seen := make(map[string]bool)

	var walk func(ast.SelectionSet)
	walk = func(set ast.SelectionSet) {
		for _, s := range set {
			switch s := s.(type) {
			case *ast.Field:
				if !included(s.Directives, vars) || seen[s.Alias] {
					continue
				}
				seen[s.Alias] = true
				out = append(out, s)
			case *ast.InlineFragment:
				if included(s.Directives, vars) {
					walk(s.SelectionSet)
				}
			case *ast.FragmentSpread:
				if included(s.Directives, vars) && s.Definition != nil {
					walk(s.Definition.SelectionSet)
				}
			}
		}
	}
	walk(sel)
	return out
}

func included(dirs ast.DirectiveList, vars map[string]interface{}) bool {
	if d := dirs.ForName("skip"); d != nil {
		if v, ok := d.ArgumentMap(vars)["if"].(bool); ok && v {
			return false
		}
	}
	if d := dirs.ForName("include"); d != nil {
		if v, ok := d.ArgumentMap(vars)["if"].(bool); ok && !v {
			return false
		}
	}
	return true
}

func dataPayload(data object) wire.Payload {
	raw, err := json.Marshal(data)
	if err != nil {
		return errorPayload(errs.Internal("encode", err))
	}
	return wire.Payload{Data: raw}
}

func errorPayload(err error) wire.Payload {
	return wire.Payload{Errors: ErrorList(err)}
}

// ErrorPayload renders err as a response payload without data.
func ErrorPayload(err error) wire.Payload {
	return errorPayload(err)
}

// object is a JSON object that keeps selection order.
type object []member

type member struct {
	key   string
	value interface{}
}

func (o object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(m.key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(m.value)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
