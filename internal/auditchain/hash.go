// ABOUTME: Deterministic entry hashing for the skill audit chain
// ABOUTME: SHA-256 over canonical JSON of the entry's fields joined with the previous hash

package auditchain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/2389/warrant/internal/store"
)

// hashedFields builds the canonical field map covered by an entry's hash.
// The database-assigned id, the insertion timestamp, and the two hash fields
// themselves are excluded; everything else is covered, so any later edit to
// any field breaks verification. encoding/json sorts map keys at every level,
// which gives the canonical rendering.
func hashedFields(e *store.SkillAuditEntry) map[string]any {
	return map[string]any{
		"user_id":                e.UserID,
		"tenant_id":              e.TenantID,
		"skill_id":               e.SkillID,
		"skill_path":             e.SkillPath,
		"skill_trust_level":      e.SkillTrustLevel,
		"task_id":                e.TaskID,
		"agent_id":               e.AgentID,
		"trigger_reason":         e.TriggerReason,
		"data_classes_requested": e.DataClassesRequested,
		"data_classes_granted":   e.DataClassesGranted,
		"data_redacted":          e.DataRedacted,
		"tokens_used":            e.TokensUsed,
		"input_hash":             e.InputHash,
		"output_hash":            e.OutputHash,
		"execution_time_ms":      e.ExecutionTimeMs,
		"success":                e.Success,
		"error":                  e.Error,
		"sandbox_config":         e.SandboxConfig,
		"security_flags":         e.SecurityFlags,
	}
}

// ComputeEntryHash returns the lowercase hex SHA-256 of the entry's canonical
// JSON joined to previousHash with a ":" separator.
func ComputeEntryHash(e *store.SkillAuditEntry, previousHash string) (string, error) {
	canonical, err := json.Marshal(hashedFields(e))
	if err != nil {
		return "", fmt.Errorf("marshaling entry fields: %w", err)
	}

	sum := sha256.Sum256(append(append(canonical, ':'), previousHash...))
	return hex.EncodeToString(sum[:]), nil
}
