// Package modelmap translates externally visible (OpenAI-style) model
// names into the upstream's internal model identifiers (spec §4.2,
// component C2).
package modelmap

// internalByExternal is the authoritative external→internal mapping
// table from the GLOSSARY. Keys are external names a client may send.
var internalByExternal = map[string]string{
	"claude-opus-4-5":            "claude-opus-4.5",
	"claude-opus-4-5-20251101":   "claude-opus-4.5",
	"claude-haiku-4-5":           "claude-haiku-4.5",
	"claude-haiku-4.5":           "claude-haiku-4.5",
	"claude-sonnet-4-5":          "CLAUDE_SONNET_4_5_20250929_V1_0",
	"claude-sonnet-4-5-20250929": "CLAUDE_SONNET_4_5_20250929_V1_0",
	"claude-sonnet-4":            "CLAUDE_SONNET_4_20250514_V1_0",
	"claude-sonnet-4-20250514":   "CLAUDE_SONNET_4_20250514_V1_0",
	"claude-3-7-sonnet-20250219": "CLAUDE_3_7_SONNET_20250219_V1_0",
	"auto":                       "claude-sonnet-4.5",
}

// internalValues is the set of internal IDs the table may produce, used
// to pass through a name that is already in internal form.
var internalValues = func() map[string]bool {
	set := make(map[string]bool, len(internalByExternal))
	for _, v := range internalByExternal {
		set[v] = true
	}
	return set
}()

// InternalID maps an external model name to the upstream's internal
// model ID. Rules, in order: (a) exact external match wins; (b) a
// value already in internal form passes through; (c) unknown names
// pass through unchanged — the upstream will reject an invalid one.
// This function never fails.
func InternalID(external string) string {
	if internal, ok := internalByExternal[external]; ok {
		return internal
	}
	if internalValues[external] {
		return external
	}
	return external
}

// KnownExternalIDs returns the external names the mapping table knows
// about, except the "auto" alias, used by the model-info cache's
// static fallback list.
func KnownExternalIDs() []string {
	ids := make([]string, 0, len(internalByExternal))
	for k := range internalByExternal {
		if k == "auto" {
			continue
		}
		ids = append(ids, k)
	}
	return ids
}
