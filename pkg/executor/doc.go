/*
Package executor runs shell commands on workers over ssh.

One client per worker is dialed lazily and cached; a transport failure drops
the cached client so the next call redials. Each command gets its own session.
Run targets one worker, RunAll fans a command to every worker in parallel and
keeps only the successful results.

The executor deliberately does not interpret output: a command either yields
its trimmed stdout or fails (transport error, non-zero exit, timeout all look
the same to callers). Parsing belongs to the lifecycle engine and the
catalogue.

Concurrent sessions are bounded by a small semaphore so a wide fan-out cannot
starve other operations.

The package also owns environment sync: the local challenge tree is archived
once and streamed to every worker, recreating each worker's base path.
*/
package executor
