/*
Package jobs tracks background lifecycle operations.

A start or stop must survive the HTTP response that launched it, so each runs
as a job whose handle stays in the registry until completion. Client
disconnects never cancel a job; shutdown drains the registry instead.
*/
package jobs
