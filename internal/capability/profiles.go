// ABOUTME: Static per-agent-type permission profiles consumed by the Minter
// ABOUTME: Profiles pair ordered allow/deny action pattern lists under a normalized agent-type key

package capability

import (
	"sort"
	"strings"
)

// Profile is the static permission set for one agent type. Denied patterns
// are evaluated before allowed ones.
type Profile struct {
	AgentType string
	Allowed   []string
	Denied    []string
}

// Profiles maps a normalized agent-type key to its profile. Construct once at
// startup and treat as read-only; the Minter never mutates it and always
// deep-copies the lists it hands out.
type Profiles map[string]Profile

// AgentTypes returns the known agent-type keys in lexical order.
func (p Profiles) AgentTypes() []string {
	types := make([]string, 0, len(p))
	for k := range p {
		types = append(types, k)
	}
	// Deterministic order for error messages and tests.
	sort.Strings(types)
	return types
}

// NormalizeAgentType reduces a free-form delegatee string to a profile key:
// trim, take the first whitespace-delimited token, lower-case.
// "Verifier agent" and "verifier" address the same profile.
func NormalizeAgentType(delegatee string) string {
	fields := strings.Fields(delegatee)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

// DefaultProfiles returns the built-in agent-type profiles. Hunters may read
// research sources and write to the CRM but never send mail; verifiers are
// read-only; enrichers may additionally write CRM records; outreachers may
// draft and send email but touch nothing else.
func DefaultProfiles() Profiles {
	return Profiles{
		"hunter": {
			AgentType: "hunter",
			Allowed:   []string{"read_exa", "read_pubmed", "read_crm", "write_crm"},
			Denied:    []string{"send_email", "delete_anything"},
		},
		"verifier": {
			AgentType: "verifier",
			Allowed:   []string{"read_everything"},
			Denied:    []string{"write_anything", "send_anything", "delete_anything"},
		},
		"enricher": {
			AgentType: "enricher",
			Allowed:   []string{"read_everything", "write_crm"},
			Denied:    []string{"send_anything", "delete_anything"},
		},
		"outreacher": {
			AgentType: "outreacher",
			Allowed:   []string{"read_crm", "draft_email", "send_email"},
			Denied:    []string{"delete_anything", "write_crm"},
		},
	}
}
