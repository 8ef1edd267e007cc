package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgoulah/meterscraper/internal/scraper"
)

func TestInteresting(t *testing.T) {
	tests := []struct {
		req  scraper.Request
		want bool
	}{
		{scraper.Request{URL: "https://smartmeter.netzburgenland.at/enview/enView.Portal/api/consumption/export"}, true},
		{scraper.Request{URL: "https://cdn.example.com/report", MimeType: "text/csv"}, true},
		{scraper.Request{URL: "https://cdn.example.com/app.js", MimeType: "application/javascript"}, false},
		{scraper.Request{URL: "https://cdn.example.com/logo.png", MimeType: "image/png"}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, interesting(tt.req), tt.req.URL)
	}
}

func TestAnalyzeWritesJSON(t *testing.T) {
	dir := t.TempDir()
	export := filepath.Join(dir, "export.csv")
	require.NoError(t, os.WriteFile(export, []byte("Datum;Verbrauch (kWh)\n01.06.2024 08:00;2,5\n01.06.2024 20:00;x\n02.06.2024 09:00;3,0\n"), 0644))

	cfgFile = filepath.Join(dir, "missing.yaml")
	analyzeOutput = filepath.Join(dir, "analysis.json")
	t.Cleanup(func() { cfgFile, analyzeOutput = "", "" })

	require.NoError(t, runAnalyze(analyzeCmd, []string{export}))

	data, err := os.ReadFile(analyzeOutput)
	require.NoError(t, err)

	var a analysis
	require.NoError(t, json.Unmarshal(data, &a))
	assert.Equal(t, "Verbrauch (kWh)", a.ValueColumn)
	assert.Equal(t, 3, a.Rows)
	assert.Equal(t, 1, a.Dropped)
	assert.Equal(t, 2, a.Summary.Count)
	assert.Equal(t, 5.5, a.Summary.Total)
	assert.Equal(t, 0.15, a.Snapshot.PricePerKWh)
}
