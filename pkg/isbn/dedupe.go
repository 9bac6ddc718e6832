package isbn

// Deduped is the outcome of normalizing a list of raw values.
type Deduped struct {
	// Keys holds unique keys in first-seen order.
	Keys []Key

	// FirstSeen maps each key to the first raw value that produced it.
	FirstSeen map[Key]any

	// Invalid holds raw values that could not be normalized, in input order.
	Invalid []any

	// Duplicates counts raw values whose key was already seen.
	Duplicates int
}

// Dedupe normalizes raws and collapses values that share a key.
func Dedupe(raws []any) Deduped {
	d := Deduped{
		Keys:      make([]Key, 0, len(raws)),
		FirstSeen: make(map[Key]any, len(raws)),
	}

	for _, raw := range raws {
		k, ok := Normalize(raw)
		if !ok {
			d.Invalid = append(d.Invalid, raw)
			continue
		}
		if _, seen := d.FirstSeen[k]; seen {
			d.Duplicates++
			continue
		}
		d.FirstSeen[k] = raw
		d.Keys = append(d.Keys, k)
	}

	return d
}
