// Package graphql binds the record operations to a GraphQL schema.
//
// Requests are parsed and validated with gqlparser, the operation type decides
// the kind (query = read, mutation = write, subscription = live), and the
// requested selection set is applied to every record returned. Parsed
// documents are cached by query text.
//
// Schema:
//
//	type Record { id: ID!  content: String! }
//	type Query { records: [Record!]! }
//	type Mutation { createRecord(content: String!): Record! }
//	type Subscription { recordCreated: Record! }
package graphql
