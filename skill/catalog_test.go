package skill

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func seedCatalog(t *testing.T) *InMemoryCatalog {
	t.Helper()
	c := NewInMemoryCatalog()
	skills := []*Skill{
		{SkillID: "pdf-extract", Version: "1.0.0", Language: LanguagePython, DefaultTimeoutSeconds: 10,
			Metadata: Metadata{Name: "PDF Extractor", Description: "pulls text from PDFs", Author: "alice", Category: "documents"}},
		{SkillID: "csv-parse", Version: "1.0.0", Language: LanguageGo, DefaultTimeoutSeconds: 10,
			Metadata: Metadata{Name: "CSV Parser", Description: "parses tabular data", Author: "bob", Category: "data"}},
		{SkillID: "csv-merge", Version: "2.0.0", Language: LanguageGo, DefaultTimeoutSeconds: 10,
			Metadata: Metadata{Name: "CSV Merger", Description: "merges tabular data", Author: "alice", Category: "data"}},
	}
	for _, s := range skills {
		require.NoError(t, c.Put(context.Background(), s))
	}
	return c
}

func TestPutRejectsDuplicateVersion(t *testing.T) {
	c := NewInMemoryCatalog()
	s := &Skill{SkillID: "x", Version: "1.0.0", Language: LanguageGo, DefaultTimeoutSeconds: 5}
	require.NoError(t, c.Put(context.Background(), s))
	err := c.Put(context.Background(), s)
	require.Error(t, err)
}

func TestPutAdvancesLatestOnlyForNewerSemver(t *testing.T) {
	c := NewInMemoryCatalog()
	v1 := &Skill{SkillID: "x", Version: "1.0.0", Language: LanguageGo, DefaultTimeoutSeconds: 5}
	v2 := &Skill{SkillID: "x", Version: "2.0.0", Language: LanguageGo, DefaultTimeoutSeconds: 5}
	require.NoError(t, c.Put(context.Background(), v2))
	require.NoError(t, c.Put(context.Background(), v1))

	latest, err := c.Get(context.Background(), "x")
	require.NoError(t, err)
	require.Equal(t, "2.0.0", latest.Version, "registering an older version after a newer one must not move the latest pointer")
}

func TestListFiltersByCategoryLanguageAuthorAndQuery(t *testing.T) {
	c := seedCatalog(t)

	results, err := c.List(context.Background(), DiscoveryFilter{Category: "data"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	results, err = c.List(context.Background(), DiscoveryFilter{Author: "alice"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	results, err = c.List(context.Background(), DiscoveryFilter{Language: LanguagePython})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "pdf-extract", results[0].SkillID)

	results, err = c.List(context.Background(), DiscoveryFilter{Query: "merge"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "csv-merge", results[0].SkillID)
}

func TestListPaginatesWithOffsetAndLimit(t *testing.T) {
	c := seedCatalog(t)

	all, err := c.List(context.Background(), DiscoveryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	page, err := c.List(context.Background(), DiscoveryFilter{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, all[1].SkillID, page[0].SkillID)
}

func TestListOffsetBeyondResultsReturnsEmpty(t *testing.T) {
	c := seedCatalog(t)
	results, err := c.List(context.Background(), DiscoveryFilter{Offset: 100})
	require.NoError(t, err)
	require.Empty(t, results)
}
