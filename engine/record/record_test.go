package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucket(t *testing.T) {
	t.Run("ShouldKeepRenderCategories", func(t *testing.T) {
		for _, category := range RenderOrder {
			assert.Equal(t, category, Bucket(string(category)))
		}
	})
	t.Run("ShouldFoldFirewallSubtypesIntoOther", func(t *testing.T) {
		for _, label := range []string{"gateway", "filter", "ipsec", "nmap"} {
			assert.Equal(t, CategoryOther, Bucket(label))
		}
	})
	t.Run("ShouldFoldUnknownLabelsIntoOther", func(t *testing.T) {
		assert.Equal(t, CategoryOther, Bucket(""))
		assert.Equal(t, CategoryOther, Bucket("syslog"))
		assert.Equal(t, CategoryOther, Bucket("IDS"))
	})
}

func TestFromEntries(t *testing.T) {
	t.Run("ShouldPreserveOrderAndResolveFields", func(t *testing.T) {
		entries := []Entry{
			{"id": "a-1", "description": "blocked inbound tcp", "type": "filter", "source_file": "fw.json"},
			{"description": "", "type": "log"},
			{"raw": "Sep 12 sshd[411]: failed password", "type": "log", "timestamp": "2024-09-12T08:00:00Z"},
		}
		records := FromEntries(entries)
		require.Len(t, records, 3)
		assert.Equal(t, "a-1", records[0].ID)
		assert.Equal(t, "blocked inbound tcp", records[0].Text)
		assert.Equal(t, "filter", records[0].Category)
		assert.Equal(t, "fw.json", records[0].Source)
		assert.Empty(t, records[1].Text)
		assert.Equal(t, "Sep 12 sshd[411]: failed password", records[2].Text)
		assert.Equal(t, "2024-09-12T08:00:00Z", records[2].Timestamp)
	})
	t.Run("ShouldCopyMetadataPerRecord", func(t *testing.T) {
		entry := Entry{"description": "alert", "severity": float64(3)}
		records := FromEntries([]Entry{entry})
		require.Len(t, records, 1)
		records[0].Metadata["severity"] = float64(9)
		assert.Equal(t, float64(3), entry["severity"])
	})
}

func TestSanitizeMetadata(t *testing.T) {
	t.Run("ShouldPassScalarsThrough", func(t *testing.T) {
		clean := SanitizeMetadata(map[string]any{
			"source_file": "ids.json",
			"severity":    float64(2),
			"blocked":     true,
		})
		assert.Equal(t, "ids.json", clean["source_file"])
		assert.Equal(t, float64(2), clean["severity"])
		assert.Equal(t, true, clean["blocked"])
	})
	t.Run("ShouldMapNilToNullString", func(t *testing.T) {
		clean := SanitizeMetadata(map[string]any{"user": nil})
		assert.Equal(t, "null", clean["user"])
	})
	t.Run("ShouldSerializeNestedValues", func(t *testing.T) {
		clean := SanitizeMetadata(map[string]any{
			"ports": []any{float64(22), float64(443)},
			"geo":   map[string]any{"cc": "DE"},
		})
		assert.Equal(t, "[22,443]", clean["ports"])
		assert.Equal(t, `{"cc":"DE"}`, clean["geo"])
	})
}
