/*
Package api maps the three instancer routes onto the core.

	GET /start/{user_id}/{service_name}
	GET /stop/{user_id}/{service_name}
	GET /status/{user_id}/{service_name}

Path segments are validated against ^[a-z0-9_\-]*$ (422 on mismatch), unknown
challenges yield 404, and every route sits behind HTTP Basic auth with the
single shared credential from configuration.

Every handler probes before acting, so decisions and status responses reflect
observed reality. Start and stop return immediately with a launched/stopping
message while the actual work runs as a background job; status is served
inline. A panic anywhere in a handler is caught at this boundary and shaped
into the route's "something went wrong" response.

The same listener also serves /metrics and /healthz, outside of auth.
*/
package api
