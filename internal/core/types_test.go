package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JonMunkholm/helios/internal/core"
)

func TestKey_MapKeyDistinguishesParts(t *testing.T) {
	tests := []struct {
		name string
		a, b core.Key
	}{
		{"pipe inside part", core.Key{"a|b", "c"}, core.Key{"a", "b|c"}},
		{"comma inside part", core.Key{"a,b", "c"}, core.Key{"a", "b,c"}},
		{"quote inside part", core.Key{`a",`, "b"}, core.Key{"a", `,"b`}},
		{"part count", core.Key{"a", ""}, core.Key{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, tt.a.MapKey(), tt.b.MapKey())
		})
	}
}

func TestKey_MapKeyStable(t *testing.T) {
	assert.Equal(t, core.Key{"cam-1", int64(3)}.MapKey(), core.Key{"cam-1", int64(3)}.MapKey())
}
