package graphql

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/maxpert/livefeed/errs"
	"github.com/maxpert/livefeed/record"
	"github.com/maxpert/livefeed/wire"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/validator"
)

// SDL is the schema served by livefeed.
const SDL = `
type Record {
  id: ID!
  content: String!
}

type Query {
  records: [Record!]!
}

type Mutation {
  createRecord(content: String!): Record!
}

type Subscription {
  recordCreated: Record!
}
`

const defaultCacheSize = 256

// Root field names
const (
	fieldRecords       = "records"
	fieldCreateRecord  = "createRecord"
	fieldRecordCreated = "recordCreated"
	fieldTypename      = "__typename"
)

// liveTopics maps subscription root fields to hub topics.
var liveTopics = map[string]string{
	fieldRecordCreated: record.TopicCreated,
}

type cachedDocument struct {
	query string
	doc   *ast.QueryDocument
}

// Schema parses and validates requests against SDL.
type Schema struct {
	schema *ast.Schema
	cache  *lru.Cache[uint64, cachedDocument]
}

// NewSchema loads SDL. cacheSize <= 0 selects a default.
func NewSchema(cacheSize int) (*Schema, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}

	s, gerr := gqlparser.LoadSchema(&ast.Source{Name: "livefeed.graphql", Input: SDL})
	if gerr != nil {
		return nil, fmt.Errorf("failed to load schema: %w", gerr)
	}

	cache, err := lru.New[uint64, cachedDocument](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create document cache: %w", err)
	}

	return &Schema{schema: s, cache: cache}, nil
}

// Prepare parses, validates and classifies a request. Validation failures
// are returned as *RequestError.
func (s *Schema) Prepare(req wire.Request) (*Prepared, error) {
	if req.Query == "" {
		return nil, badRequest("query is required")
	}

	doc, err := s.document(req.Query)
	if err != nil {
		return nil, err
	}

	op := doc.Operations.ForName(req.OperationName)
	if op == nil {
		if req.OperationName == "" {
			return nil, badRequest("operationName is required when the document has several operations")
		}
		return nil, badRequest(fmt.Sprintf("operation %q not found", req.OperationName))
	}

	vars, verr := validator.VariableValues(s.schema, op, req.Variables)
	if verr != nil {
		return nil, &RequestError{Errors: gqlerror.List{withCode(verr, errs.CodeBadRequest)}}
	}

	p := &Prepared{
		Name:      op.Name,
		operation: op,
		vars:      vars,
	}

	switch op.Operation {
	case ast.Query:
		p.Kind = wire.KindRead
	case ast.Mutation:
		p.Kind = wire.KindWrite
	case ast.Subscription:
		p.Kind = wire.KindLive
	default:
		return nil, badRequest(fmt.Sprintf("unsupported operation type %q", op.Operation))
	}

	p.fields = collectFields(op.SelectionSet, vars)
	if p.Kind == wire.KindLive {
		if len(p.fields) != 1 {
			return nil, badRequest("subscriptions must select exactly one root field")
		}
		topic, ok := liveTopics[p.fields[0].Name]
		if !ok {
			return nil, badRequest(fmt.Sprintf("unknown subscription field %q", p.fields[0].Name))
		}
		p.topic = topic
	}

	return p, nil
}

func (s *Schema) document(query string) (*ast.QueryDocument, error) {
	key := xxhash.Sum64String(query)
	if entry, ok := s.cache.Get(key); ok && entry.query == query {
		return entry.doc, nil
	}

	doc, gerrs := gqlparser.LoadQuery(s.schema, query)
	if len(gerrs) > 0 {
		list := make(gqlerror.List, 0, len(gerrs))
		for _, e := range gerrs {
			list = append(list, withCode(e, errs.CodeBadRequest))
		}
		return nil, &RequestError{Errors: list}
	}

	s.cache.Add(key, cachedDocument{query: query, doc: doc})
	return doc, nil
}

// CachedDocuments returns the number of parsed documents in the cache.
func (s *Schema) CachedDocuments() int {
	return s.cache.Len()
}
