package provider

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// genSnapshot generates a small key space with short values, so that
// generated old/new snapshots overlap and every change class shows up.
func genSnapshot() gopter.Gen {
	return gen.MapOf(
		gen.OneConstOf("a", "b", "c", "d", "e", "f"),
		gen.OneConstOf("1", "2", "3"),
	)
}

// TestProperty_DiffReconstructsNewSnapshot verifies that applying the
// classified events from DiffMaps to the old snapshot reproduces the
// new snapshot exactly.
func TestProperty_DiffReconstructsNewSnapshot(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("applying diff events to old yields new", prop.ForAll(
		func(oldSnap, newSnap map[string]string) bool {
			events := DiffMaps("prop", oldSnap, newSnap)

			rebuilt := make(map[string]string, len(oldSnap))
			for k, v := range oldSnap {
				rebuilt[k] = v
			}
			for _, ev := range events {
				switch ev.Type {
				case ChangeAdded, ChangeModified:
					if ev.NewValue == nil {
						t.Logf("event %s for key %s has nil NewValue", ev.Type, ev.Key)
						return false
					}
					rebuilt[ev.Key] = *ev.NewValue
				case ChangeDeleted:
					if ev.NewValue != nil {
						t.Logf("deleted event for key %s carries a NewValue", ev.Key)
						return false
					}
					delete(rebuilt, ev.Key)
				}
			}

			if len(rebuilt) != len(newSnap) {
				return false
			}
			for k, v := range newSnap {
				if rebuilt[k] != v {
					return false
				}
			}
			return true
		},
		genSnapshot(),
		genSnapshot(),
	))

	properties.Property("event invariants hold for every classified change", prop.ForAll(
		func(oldSnap, newSnap map[string]string) bool {
			for _, ev := range DiffMaps("prop", oldSnap, newSnap) {
				switch ev.Type {
				case ChangeAdded:
					if ev.OldValue != nil || ev.NewValue == nil {
						return false
					}
				case ChangeDeleted:
					if ev.OldValue == nil || ev.NewValue != nil {
						return false
					}
				case ChangeModified:
					if ev.OldValue == nil || ev.NewValue == nil {
						return false
					}
					if *ev.OldValue == *ev.NewValue {
						return false
					}
				default:
					return false
				}
			}
			return true
		},
		genSnapshot(),
		genSnapshot(),
	))

	properties.TestingRun(t)
}
