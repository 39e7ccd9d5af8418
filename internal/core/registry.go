package core

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registry   = make(map[TableID]TableDefinition)
	registryMu sync.RWMutex
)

// Register adds a table definition to the registry.
// Panics if a table with the same key is already registered.
func Register(def TableDefinition) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[def.Info.Key]; exists {
		panic(fmt.Sprintf("table already registered: %s", def.Info.Key))
	}
	if len(def.KeyColumns()) == 0 {
		panic(fmt.Sprintf("table %s has no key columns", def.Info.Key))
	}

	registry[def.Info.Key] = def
}

// Get returns a table definition by key.
// Returns false if not found.
func Get(key TableID) (TableDefinition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	def, ok := registry[key]
	return def, ok
}

// MustGet returns a table definition or panics. Use only for tables the
// caller knows are registered.
func MustGet(key TableID) TableDefinition {
	def, ok := Get(key)
	if !ok {
		panic(fmt.Sprintf("unknown table: %s", key))
	}
	return def
}

// All returns all registered table definitions.
// Sorted by group then by rank then by key for consistent ordering.
func All() []TableDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]TableDefinition, 0, len(registry))
	for _, def := range registry {
		result = append(result, def)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Info.Group != result[j].Info.Group {
			return result[i].Info.Group < result[j].Info.Group
		}
		if result[i].Info.Rank != result[j].Info.Rank {
			return result[i].Info.Rank < result[j].Info.Rank
		}
		return result[i].Info.Key < result[j].Info.Key
	})

	return result
}

// ByGroup returns all table definitions for a specific group, in rank order.
func ByGroup(group string) []TableDefinition {
	var result []TableDefinition
	for _, def := range All() {
		if def.Info.Group == group {
			result = append(result, def)
		}
	}
	return result
}

// IngestOrder returns the ingestible tables with referenced tables first.
func IngestOrder() []TableDefinition {
	return ByGroup(GroupTelemetry)
}

// Groups returns all unique group names.
// Sorted alphabetically.
func Groups() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	seen := make(map[string]bool)
	for _, def := range registry {
		seen[def.Info.Group] = true
	}

	groups := make([]string, 0, len(seen))
	for g := range seen {
		groups = append(groups, g)
	}

	sort.Strings(groups)
	return groups
}

// Referrer is a foreign key of Table that targets another table.
type Referrer struct {
	Table      TableID
	ForeignKey ForeignKey
}

// Referrers returns every foreign key pointing at target, in registry order.
func Referrers(target TableID) []Referrer {
	var result []Referrer
	for _, def := range All() {
		for _, fk := range def.ForeignKeys {
			if fk.Target == target {
				result = append(result, Referrer{Table: def.Info.Key, ForeignKey: fk})
			}
		}
	}
	return result
}

// RegisteredCount returns the number of registered tables.
func RegisteredCount() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}

// Clear removes all registered tables.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[TableID]TableDefinition)
}
