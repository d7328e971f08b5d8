/*
Package registry holds the static worker list and per-worker port allocators.

Workers come from the [servers] configuration tables, sorted by name so the
server index persisted in the store survives restarts. The registry is
read-only after startup.

Each worker carries its own PortAllocator over [1024, 65535]. Allocation is
non-decreasing with wrap: the allocator advances past its last allocation,
skipping taken ports, rather than hunting for the lowest free port. It knows
nothing about actual port occupancy on the worker; a collision with an
externally-bound port surfaces as a failed run command.
*/
package registry
