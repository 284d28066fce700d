/*
File: schema.go
Version: 1.1.0
Description: Reconciles extracted feature mappings against the ordered feature
             schema a loaded model expects. Schema drift degrades to zero-filled
             defaults and is logged, never raised: a possibly-imprecise
             prediction beats a refused one.
*/

package main

import "strings"

// SchemaDrift reports the reconciliation a single alignment performed.
type SchemaDrift struct {
	Added   []string // expected by the model, absent from the extractor
	Dropped []string // produced by the extractor, unknown to the model
}

func (d *SchemaDrift) Empty() bool {
	return d == nil || (len(d.Added) == 0 && len(d.Dropped) == 0)
}

// AlignFeatures orders the mapping's values to match the expected schema.
// Missing names are substituted with 0, unexpected names dropped. When
// expected is empty the extractor's natural order is authoritative.
// The returned vector always has len(expected) entries for non-empty expected.
func AlignFeatures(feats *FeatureMapping, expected []string) ([]float64, *SchemaDrift) {
	if len(expected) == 0 {
		vector := make([]float64, 0, feats.Len())
		for _, name := range feats.Names() {
			v, _ := feats.Get(name)
			vector = append(vector, v)
		}
		return vector, nil
	}

	drift := &SchemaDrift{}
	vector := make([]float64, len(expected))
	seen := make(map[string]bool, len(expected))

	for i, name := range expected {
		seen[name] = true
		if v, ok := feats.Get(name); ok {
			vector[i] = v
		} else {
			drift.Added = append(drift.Added, name)
		}
	}

	for _, name := range feats.Names() {
		if !seen[name] {
			drift.Dropped = append(drift.Dropped, name)
		}
	}

	if drift.Empty() {
		return vector, nil
	}

	if len(drift.Added) > 0 {
		LogWarn("[SCHEMA] Zero-filling %d feature(s) the model expects but the extractor lacks: [%s]",
			len(drift.Added), strings.Join(drift.Added, ","))
	}
	if len(drift.Dropped) > 0 {
		LogWarn("[SCHEMA] Dropping %d extractor feature(s) the model does not expect: [%s]",
			len(drift.Dropped), strings.Join(drift.Dropped, ","))
	}

	return vector, drift
}
