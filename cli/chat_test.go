package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/defensight/defensight/engine/session"
)

func TestPrintStats(t *testing.T) {
	stats := &session.Stats{
		TotalDocuments:     42,
		EmbeddingDimension: 384,
		Sampled:            42,
		Categories:         map[string]int{"log": 7, "ids": 20, "config": 10, "unknown": 5},
		TopSources: []session.SourceCount{
			{Source: "snort.log", Count: 20},
			{Source: "fw.conf", Count: 10},
		},
	}
	t.Run("ShouldListCategoriesInSortedOrder", func(t *testing.T) {
		var buf strings.Builder
		printStats(&buf, stats)
		out := buf.String()
		configIdx := strings.Index(out, "config")
		idsIdx := strings.Index(out, "ids")
		logIdx := strings.Index(out, "log ")
		unknownIdx := strings.Index(out, "unknown")
		assert.Greater(t, configIdx, 0)
		assert.Less(t, configIdx, idsIdx)
		assert.Less(t, idsIdx, logIdx)
		assert.Less(t, logIdx, unknownIdx)
	})
	t.Run("ShouldRenderIdenticallyAcrossRuns", func(t *testing.T) {
		var first, second strings.Builder
		printStats(&first, stats)
		printStats(&second, stats)
		assert.Equal(t, first.String(), second.String())
	})
	t.Run("ShouldStopAfterTotalForEmptyIndex", func(t *testing.T) {
		var buf strings.Builder
		printStats(&buf, &session.Stats{})
		assert.Equal(t, "Total documents: 0\n", buf.String())
	})
}
