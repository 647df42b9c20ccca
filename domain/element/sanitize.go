package element

// SanitizeBindings prunes dangling binding relations from every element in
// batch. A boundElements entry survives only if its id refers to another
// element present in the same batch and its type is recognized; an empty
// result collapses to nil rather than an empty list. A containerId survives
// only if its referent is present in the batch; otherwise it is cleared.
//
// The rendering layer crashes on dangling references, so every inbound
// batch must pass through here before it reaches the scene.
func SanitizeBindings(batch []Element) []Element {
	present := make(map[string]bool, len(batch))
	for _, el := range batch {
		present[el.ID] = true
	}

	out := make([]Element, len(batch))
	for i, el := range batch {
		out[i] = sanitizeOne(el, present)
	}
	return out
}

// SanitizeAgainst sanitizes a single element against an already-merged set
// of known element ids, including the element itself.
func SanitizeAgainst(el Element, known map[string]bool) Element {
	return sanitizeOne(el, known)
}

func sanitizeOne(el Element, present map[string]bool) Element {
	el = el.Clone()

	if el.BoundElements != nil {
		kept := el.BoundElements[:0]
		for _, b := range el.BoundElements {
			if b.ID == "" || !present[b.ID] || !IsValidBindingType(b.Type) {
				continue
			}
			kept = append(kept, b)
		}
		if len(kept) == 0 {
			el.BoundElements = nil
		} else {
			el.BoundElements = kept
		}
	}

	if el.ContainerID != nil && (*el.ContainerID == "" || !present[*el.ContainerID]) {
		el.ContainerID = nil
	}

	return el
}
