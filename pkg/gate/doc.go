/*
Package gate implements the per-challenge working-set admission gate.

For every challenge there is a mutex-guarded set of user ids currently
undergoing a start or stop. ContainsOrInsert is the only admission primitive:
the one caller that flips a user from absent to present proceeds, everyone
else is told the operation is still in flight.

The gate is purely in-memory. Losing it on restart releases every admission,
which is fine: the durable store is authoritative for final outcomes, and the
reconciler repairs anything an interrupted operation left behind.
*/
package gate
