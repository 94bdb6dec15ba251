package engine

// mergeContext folds an incremental context bag into the session's existing
// one. Top-level values override wholesale, except the "automation"
// sub-object, which merges field by field so a prompt can adjust one
// automation setting without resending the rest.
func mergeContext(existing, incoming map[string]any) map[string]any {
	if len(incoming) == 0 {
		return existing
	}
	if existing == nil {
		existing = make(map[string]any, len(incoming))
	}
	for k, v := range incoming {
		if k == "automation" {
			prev, prevOK := existing[k].(map[string]any)
			next, nextOK := v.(map[string]any)
			if prevOK && nextOK {
				existing[k] = deepMerge(prev, next)
				continue
			}
		}
		existing[k] = v
	}
	return existing
}

// deepMerge merges src into a copy of dst, recursing wherever both sides
// hold a map under the same key.
func deepMerge(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		if prev, ok := out[k].(map[string]any); ok {
			if next, ok := v.(map[string]any); ok {
				out[k] = deepMerge(prev, next)
				continue
			}
		}
		out[k] = v
	}
	return out
}
