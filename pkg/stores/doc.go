// Package stores provides the persistence layer for converge: the append-only
// audit log of executed actions, the runs they belong to, and the metadata of
// resource snapshots whose content is kept as .bak files on disk. The SQLite
// implementation uses WAL mode and embedded golang-migrate migrations.
package stores
