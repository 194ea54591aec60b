package capability

// Named default capability sets for common agent profiles. An agent spawned
// without explicit capabilities gets one of these by name.
var defaultSets = map[string][]string{
	// minimal agents can only use their own memory
	"minimal": {},
	"basic": {
		"file:*:read",
		"http:*:request",
	},
	"standard": {
		"file:*:read,write",
		"http:*:request",
		"shell:*:execute",
	},
	"full": {
		"file:*:*",
		"http:*:*",
		"shell:*:*",
		"agent:*:spawn",
	},
}

// DefaultSet returns the capability strings for a named set. Unknown names
// fall back to "basic".
func DefaultSet(name string) []string {
	set, ok := defaultSets[name]
	if !ok {
		set = defaultSets["basic"]
	}
	out := make([]string, len(set))
	copy(out, set)
	return out
}
