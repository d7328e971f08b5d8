/*
Package events distributes instance lifecycle events to subscribers.

The broker fans published events out to every subscriber over buffered
channels; a slow subscriber is skipped rather than allowed to block the rest.
*/
package events
