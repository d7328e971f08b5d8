/*
Package lifecycle drives instances through their state machine.

The engine owns the two mutating operations of the system, start and stop.
Both are admitted through the per-challenge working set, run as background
jobs that outlive the HTTP request, and persist every state transition before
executing the action it announces - so a crash at any point leaves a row that
tells the truth about how far the operation got.

# State machine

	not_started (absence)
	     │ start
	     ▼
	  created ─────► starting ─────► running
	                  │      ▲         │ stop
	                  ▼      │         ▼
	               failed ─► scheduled  row deleted

failed is terminal until the user retries: a start on a failed row rewinds it
to scheduled and runs the sequence again. Nothing is retried automatically.
The engine never writes stopping or stopped; stopped is written only by the
reconciler.

# Start sequence

	1. Read state: running returns early, failed rewinds, absence creates.
	2. Persist starting.
	3. Pick the least-loaded reachable worker; none -> failed.
	4. Record the placement, allocate and record a port.
	5. Invoke the challenge's run command on the worker; failure -> failed.
	6. Release the gate, leaving the row in starting.

The start sequence deliberately never writes running: an instance is
"launched", not "live", until the reconciler observes a healthy probe and
promotes it.

# Stop sequence

Destroy failures are logged but never block row deletion - forgetting beats
leaking, because the reconciler re-observes any residual service on the next
probe.
*/
package lifecycle
