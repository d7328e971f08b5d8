/*
Package types defines the shared data structures of the instancer.

An Instance is one (challenge, user) pair: a provisioned copy of a challenge
on behalf of a user. Its lifecycle is a string-valued state machine persisted
by the store:

	not_started (absence) → created → scheduled → starting → running
	                              ↘ failed          stopping → stopped

A Challenge is a catalogue entry describing how to run, destroy, and probe one
named service. An Observation is what the reconciler learned about an instance
by probing a worker; observed state overrides durable state.
*/
package types
