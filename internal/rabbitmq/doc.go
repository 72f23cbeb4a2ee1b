// Package rabbitmq owns the logical broker connection. The ConnectionManager
// holds at most one live connection at a time, creates it lazily, and replaces
// it wholesale once the transport reports it closed. Creation is serialized so
// concurrent callers during a failure episode block on one in-flight dial and
// then observe the same connection instance.
package rabbitmq
