package scraper

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syntheticList(n int) SelectorList {
	list := SelectorList{Name: "synthetic"}
	for i := 1; i <= n; i++ {
		list.Selectors = append(list.Selectors, css(fmt.Sprintf("#s%d", i)))
	}
	return list
}

func TestLocateStopsAtFirstMatch(t *testing.T) {
	page := newFakePage().match("#s3", "third")
	obs := newCountingObserver()

	hit, err := locate(context.Background(), page, syntheticList(5), obs)
	require.NoError(t, err)
	require.NotNil(t, hit)

	assert.Equal(t, 2, hit.Index)
	assert.Equal(t, "third", hit.Element.ID)
	assert.Equal(t, []string{"#s1", "#s2", "#s3"}, page.findOrder)
	assert.Zero(t, page.finds["#s4"])
	assert.Zero(t, page.finds["#s5"])
	assert.Equal(t, 2, obs.hits["synthetic"])
}

func TestLocateSkipsBrokenSelectors(t *testing.T) {
	page := newFakePage().match("#s2", "second")
	page.broken["#s1"] = true

	hit, err := locate(context.Background(), page, syntheticList(3), nopObserver{})
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, 1, hit.Index)
	assert.Zero(t, page.finds["#s3"])
}

func TestLocateMiss(t *testing.T) {
	page := newFakePage()
	obs := newCountingObserver()

	hit, err := locate(context.Background(), page, syntheticList(4), obs)
	require.NoError(t, err)
	assert.Nil(t, hit)
	assert.Len(t, page.findOrder, 4)
	assert.Equal(t, 1, obs.misses["synthetic"])
}

func TestLocateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	page := newFakePage().match("#s1", "first")
	_, err := locate(ctx, page, syntheticList(2), nopObserver{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, page.findOrder)
}

func TestDefaultSelectorsValid(t *testing.T) {
	set := DefaultSelectors()
	for _, list := range set.lists() {
		assert.NotEmpty(t, list.Selectors, list.Name)
		for _, sel := range list.Selectors {
			assert.NoError(t, sel.Validate(), "%s: %s", list.Name, sel.label())
		}
	}

	assert.Equal(t, "input[type='email']", set.Username.Selectors[0].Query)
	assert.Equal(t, ".btn-export", set.Export.Selectors[0].Query)
	assert.True(t, set.Export.Require.Visible)
	assert.True(t, set.Export.Require.Enabled)
	assert.True(t, set.LoginError.Require.HasText)
}

func TestSelectorValidate(t *testing.T) {
	assert.NoError(t, css("button").Validate())
	assert.Error(t, Selector{Kind: KindCSS}.Validate())
	assert.Error(t, Selector{Kind: KindText, Query: "button"}.Validate())
	assert.Error(t, Selector{Kind: "regex", Query: ".*"}.Validate())
}

func TestWithOverrides(t *testing.T) {
	defaults := DefaultSelectors()
	extra := Selector{Name: "portal-v2", Kind: KindCSS, Query: "button#export-v2"}

	set, err := defaults.WithOverrides(map[string][]Selector{ListExport: {extra}})
	require.NoError(t, err)

	assert.Equal(t, extra, set.Export.Selectors[0])
	assert.Len(t, set.Export.Selectors, len(defaults.Export.Selectors)+1)
	assert.Equal(t, ".btn-export", defaults.Export.Selectors[0].Query, "defaults must not change")

	_, err = defaults.WithOverrides(map[string][]Selector{"nope": {extra}})
	assert.Error(t, err)

	_, err = defaults.WithOverrides(map[string][]Selector{ListSave: {{Kind: KindText, Query: "button"}}})
	assert.Error(t, err)
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Export\n CSV ", "export csv"},
		{"Daten\texportieren", "daten exportieren"},
		{"SPEICHERN", "speichern"},
		{"", ""},
		{" \n\t ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeText(tt.in), "%q", tt.in)
	}
}
