// Package engine drives queued work entries through their lifecycle against
// a remote work service.
//
// One Engine serves one scope (kind, region and account). The host calls
// Poll on its own schedule; each call runs a single cycle:
//
//	cleanup → submit (one) → poll statuses (all) → download (one) → callback (one)
//
// Entries are claimed with a store lease before any remote call, so several
// pollers can share a store. Remote and integrity failures are counted
// against the entry's retry counters. A store failure ends the cycle early.
// Poll itself never returns an error.
package engine
