package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEntries(t *testing.T) {
	t.Run("ShouldDecodeArray", func(t *testing.T) {
		entries, err := DecodeEntries([]byte(`[{"description":"a"},{"description":"b"}]`))
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "a", entries[0].Text())
	})
	t.Run("ShouldWrapSingleObject", func(t *testing.T) {
		entries, err := DecodeEntries([]byte(`{"description":"lone entry","type":"cert"}`))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "cert", entries[0].Category())
	})
	t.Run("ShouldRejectMalformedPayload", func(t *testing.T) {
		_, err := DecodeEntries([]byte(`{"description": "unterminated`))
		require.Error(t, err)
	})
	t.Run("ShouldRejectNonObjectElements", func(t *testing.T) {
		_, err := DecodeEntries([]byte(`[{"description":"ok"},"bare string"]`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "entry 1")
	})
	t.Run("ShouldRejectScalarPayload", func(t *testing.T) {
		_, err := DecodeEntries([]byte(`42`))
		require.Error(t, err)
	})
}

func TestEntryText(t *testing.T) {
	t.Run("ShouldPreferDescription", func(t *testing.T) {
		entry := Entry{"description": "deny tcp 10.0.0.5", "raw": "raw line"}
		assert.Equal(t, "deny tcp 10.0.0.5", entry.Text())
	})
	t.Run("ShouldFallBackToRaw", func(t *testing.T) {
		entry := Entry{"description": "", "raw": "Sep 12 kernel: drop"}
		assert.Equal(t, "Sep 12 kernel: drop", entry.Text())
	})
	t.Run("ShouldDumpEntryWithoutTextFields", func(t *testing.T) {
		entry := Entry{"src": "10.0.0.5", "dst": "10.0.0.9", "type": "traffic"}
		text := entry.Text()
		assert.Contains(t, text, `"src":"10.0.0.5"`)
		assert.Contains(t, text, `"type":"traffic"`)
	})
	t.Run("ShouldResolveEmptyWhenDescriptionExplicitlyEmpty", func(t *testing.T) {
		entry := Entry{"description": "", "type": "log"}
		assert.Empty(t, entry.Text())
	})
}

func TestEntryID(t *testing.T) {
	t.Run("ShouldReturnStringID", func(t *testing.T) {
		assert.Equal(t, "evt-9", Entry{"id": "evt-9"}.ID())
	})
	t.Run("ShouldRenderNumericID", func(t *testing.T) {
		assert.Equal(t, "17", Entry{"id": float64(17)}.ID())
	})
	t.Run("ShouldReturnEmptyWhenAbsent", func(t *testing.T) {
		assert.Empty(t, Entry{"description": "x"}.ID())
	})
}
