/*
Package session manages many named script sessions inside one host.

The Manager maps names to Coordinators, serializes operations on the same session with
reference-counted local locks (optionally backed by a distributed lock), and saves or
restores script variables through a snapshot store.
*/
package session
