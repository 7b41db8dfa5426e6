// Package wire defines what travels between livefeed clients and the server:
// operations and their declared kind, GraphQL request and response envelopes,
// and the messages of the streaming protocol.
//
// The streaming protocol is the subscriptions-transport-ws ("graphql-ws")
// message set:
//
//	client -> server: connection_init, start, stop, connection_terminate
//	server -> client: connection_ack, connection_error, data, error, complete, ka
//
// A start message carries a Request; data messages carry a Payload.
package wire
