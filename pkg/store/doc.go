/*
Package store persists instance rows in an embedded sqlite database.

One table backs the whole system:

	challenges(
	    name    TEXT,
	    user_id TEXT,
	    server  INTEGER NULL,
	    port    INTEGER NULL,
	    state   TEXT NOT NULL,
	    reason  TEXT NOT NULL,
	    PRIMARY KEY (name, user_id)
	)

A row exists iff an operation has touched the (challenge, user) pair since
the last reset; absence is equivalent to not_started, which is why Get
returns ErrNotFound rather than a zero row. DeleteAndInsert replaces a row
atomically inside a transaction; it is never decomposed at the application
layer.
*/
package store
