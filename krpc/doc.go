// Package krpc implements the KRPC request/response layer that carries
// Mainline DHT queries over UDP (BEP-5), including transaction
// correlation, timeouts, and a pluggable inbound-query handler.
//
// Message encoding is handled by the bencode package; krpc owns the
// wire dictionary shapes (Msg, QueryArgs, ReturnValues, Error), compact
// node/peer encoding, and the transport (Transport) that sends queries,
// matches replies to outstanding transactions, and dispatches inbound
// queries to a QueryHandler.
package krpc
