// Package auditchain implements the tamper-evident skill execution log.
//
// Entries form a per-user hash chain: each entry's hash covers its own fields
// plus the previous entry's hash, so modifying any historical field breaks
// every later link. The first entry in a chain points at a fixed all-zero
// genesis value.
//
// Two write paths exist. LogExecution is the reference contract: the caller
// reads LatestHash, computes the entry hash, and the method does a plain
// insert. Append is the strict mode: it serializes appends per user, performs
// a conditional insert (only if the chain head still matches), and retries on
// conflict, which keeps the chain linear under concurrent writers.
//
// Verification recomputes every hash from stored fields; it trusts nothing
// but the genesis constant.
package auditchain
