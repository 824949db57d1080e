/*
Package id implements the globally comparable 128-bit identifiers that
every other package in yesqlkv builds on: transaction ids (Tid),
snapshot/commit timestamps (Timestamp), and container+object ids (Coid).

All three types are plain value types (two uint64 halves) so they can be
compared, hashed, and used as map keys directly; none of them carry a
pointer or require explicit construction beyond the New* constructors.

# Timestamps

A Timestamp is ordered lexicographically on (Hi, Lo). Hi carries a
real-time clock reading so timestamps are roughly monotonic across nodes;
Lo packs a per-process counter (to break ties within the same clock tick)
above a unique suffix (to make concurrently issued timestamps from
different processes globally distinct). Clock.New always returns a value
strictly greater than anything it has returned before and strictly
greater than the high-water mark set by the last Catchup call.
*/
package id
