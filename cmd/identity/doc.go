// Package identity holds the assist identity record and its persistence boundary.
//
// The Store interface is consumed by the account service and the CLI. Three
// implementations live here: an in-memory store (tests, single-node dev), a Postgres
// store (pgx), and a read-through cache over any Store backed by bigcache.
//
// Emails are canonicalized (trim + lower-case) before every lookup and write, so
// uniqueness is case-insensitive.
package identity
