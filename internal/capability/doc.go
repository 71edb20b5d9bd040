// Package capability implements delegation capability tokens (DCTs) and the
// minter that issues them.
//
// # Model
//
// Every agent type has a PermissionProfile: an ordered list of allowed action
// patterns and an ordered list of denied action patterns. Profiles are static
// configuration, loaded once and injected into the Minter as an immutable
// value.
//
// A Token is minted per delegation. It carries deep copies of the profile's
// lists (plus any caller-supplied extras), an optional per-data-type ID scope,
// and a time limit. Tokens are read-only after minting and are never
// persisted; expiry is the only revocation mechanism.
//
// # Permission evaluation
//
// CanPerform checks denied patterns first (deny always wins), then allowed
// patterns, and defaults to deny. A pattern matches an action either exactly
// or as a prefix wildcard: "read_everything" matches any action starting with
// "read_". A bare "_everything" or "_anything" pattern matches nothing.
//
// # External handoff
//
// Signer renders a token as an HS256-signed JWT so external tool servers can
// verify the grant without sharing process memory with the minter.
package capability
