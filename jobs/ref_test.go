package jobs

import (
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestNewRef_Shape(t *testing.T) {
	ref := NewRef()

	assert.True(t, ValidID(ref.WorkID), "work id %q should be valid", ref.WorkID)
	assert.True(t, ValidID(ref.ArchiveID), "archive id %q should be valid", ref.ArchiveID)
	assert.NotEqual(t, ref.WorkID, ref.ArchiveID)
	assert.Len(t, ref.WorkID, 29)
	assert.Len(t, ref.ArchiveID, 29)
}

func TestNewRefAt_TimestampBase(t *testing.T) {
	now := time.Date(2026, 8, 22, 14, 35, 1, 123456789, time.UTC)
	ref := NewRefAt(now)

	assert.True(t, strings.HasPrefix(ref.WorkID, "20260822143501123456-"))
	assert.True(t, strings.HasPrefix(ref.ArchiveID, "20260822143501123456-"))
	// 同一时刻的两个 id 只在随机后缀上不同
	assert.Equal(t, ref.WorkID[:21], ref.ArchiveID[:21])
	assert.NotEqual(t, ref.WorkID, ref.ArchiveID)
}

func TestValidID(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{"minted id", "20260822143501123456-8f3ab2c1", true},
		{"empty", "", false},
		{"traversal", "../escape", false},
		{"missing suffix", "20260822143501123456", false},
		{"missing dash", "202608221435011234568f3ab2c1", false},
		{"short timestamp", "2026082214350112345-8f3ab2c1", false},
		{"short suffix", "20260822143501123456-8f3ab2c", false},
		{"uppercase suffix", "20260822143501123456-8F3AB2C1", false},
		{"suffix not hex", "20260822143501123456-8f3ab2cz", false},
		{"trailing junk", "20260822143501123456-8f3ab2c1/x", false},
		{"leading junk", " 20260822143501123456-8f3ab2c1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, ValidID(tt.id))
		})
	}
}

func TestProperty_RefUniqueness(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("rapid submission never collides", prop.ForAll(
		func(n int) bool {
			seen := make(map[string]struct{}, n*2)
			for i := 0; i < n; i++ {
				ref := NewRef()
				if _, dup := seen[ref.WorkID]; dup {
					t.Logf("duplicate work id %q", ref.WorkID)
					return false
				}
				if _, dup := seen[ref.ArchiveID]; dup {
					t.Logf("duplicate archive id %q", ref.ArchiveID)
					return false
				}
				seen[ref.WorkID] = struct{}{}
				seen[ref.ArchiveID] = struct{}{}
			}
			return true
		},
		gen.IntRange(1, 64),
	))

	properties.Property("minted ids always satisfy ValidID", prop.ForAll(
		func(sec int64, nsec int64) bool {
			ref := NewRefAt(time.Unix(sec, nsec).UTC())
			return ValidID(ref.WorkID) && ValidID(ref.ArchiveID)
		},
		gen.Int64Range(0, 4102444800), // 1970 到 2100
		gen.Int64Range(0, 999999999),
	))

	properties.TestingRun(t)
}

func TestNewRefAt_AlwaysFilesystemSafe(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		sec := rapid.Int64Range(0, 4102444800).Draw(rt, "sec")
		nsec := rapid.Int64Range(0, 999999999).Draw(rt, "nsec")

		ref := NewRefAt(time.Unix(sec, nsec).UTC())

		for _, id := range []string{ref.WorkID, ref.ArchiveID} {
			assert.True(rt, ValidID(id))
			assert.NotContains(rt, id, "/")
			assert.NotContains(rt, id, "\\")
			assert.NotContains(rt, id, "..")
			assert.False(rt, strings.HasPrefix(id, "."))
		}
	})
}
