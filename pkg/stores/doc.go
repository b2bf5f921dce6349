// Package stores provides the run-metadata persistence layer for RunLedger.
// It defines the RunStorage contract and two interchangeable implementations:
// an in-process MemoryStore and a durable SQLiteStore with WAL mode and
// schema migrations. Both backends expose identical observable semantics,
// verified by a shared conformance test suite.
package stores
