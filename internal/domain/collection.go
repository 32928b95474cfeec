package domain

import "fmt"

// CollectionName derives the retrieval-engine collection name for a persona,
// a pure function of (owner, persona id) per spec.md §4.3 and §6.
func CollectionName(owner, personaID string) string {
	return fmt.Sprintf("%s_persona_%s_rag", owner, personaID)
}
