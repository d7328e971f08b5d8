/*
Package reconciler syncs durable instance state with observed worker state.

Durable rows describe what the instancer last did; workers know what actually
survived. The reconciler closes the gap by fanning the challenge's probe
command to every worker in parallel and persisting what comes back. Observed
state always overrides durable state.

	┌───────────────────────────────────────────────────────┐
	│                 Reconcile(challenge, user)            │
	└──────────────┬────────────────────────────────────────┘
	               │
	     no row?  ─┤─►  nothing to observe, stays absent
	     failed?  ─┤─►  sticky until the user retries, left alone
	     no port? ─┤─►  launch still in progress, left alone
	               ▼
	┌───────────────────────────────────────────────────────┐
	│   probe every worker (≈1s timeout each, in parallel)  │
	└──────────────┬────────────────────────────────────────┘
	               │
	  none found? ─┤─►  stopped, "challenge not found on a server"
	               ▼
	   first reporting worker is authoritative:
	   record server index, observed port, observed state

It runs in two modes: on demand before every API decision, and as a periodic
sweep over all stored rows. The reconciler corrects drift but never re-issues
a start; a failed row stays failed until the user retries.
*/
package reconciler
