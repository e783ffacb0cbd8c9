package skill

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/wishub/skillhub/errcode"
)

// Catalog resolves a skill_id to its registered metadata. It is the
// interface the invocation service and the orchestrator consume; the HTTP
// wrapper and any relational schema behind it are out of scope here.
type Catalog interface {
	// Get returns the "latest" metadata row for skillID, or a
	// *errcode.Error with Code errcode.SkillNotFound if it isn't
	// registered.
	Get(ctx context.Context, skillID string) (*Skill, error)
	// GetVersion returns the immutable metadata row for a specific
	// (skillID, version) pair.
	GetVersion(ctx context.Context, skillID, version string) (*Skill, error)
	// Put registers skillID's latest pointer and appends an immutable
	// version row. Re-registering an existing (skillID, version) pair
	// fails with errcode.SkillAlreadyExists.
	Put(ctx context.Context, s *Skill) error
	// List returns the "latest" row of every registered skill matching
	// filter, for the discovery surface. An empty filter matches
	// everything.
	List(ctx context.Context, filter DiscoveryFilter) ([]*Skill, error)
}

// DiscoveryFilter narrows List's results. Every non-empty field is ANDed
// together; Query matches case-insensitively against skill_id and the
// metadata name/description.
type DiscoveryFilter struct {
	Query    string
	Category string
	Language Language
	Author   string
	Offset   int
	Limit    int
}

// InMemoryCatalog is a Catalog backed by process memory, suitable for
// tests and single-node deployments that front it with their own
// relational store.
type InMemoryCatalog struct {
	mu       sync.RWMutex
	latest   map[string]*Skill
	versions map[string]map[string]*Skill // skillID -> version -> Skill
}

// NewInMemoryCatalog creates an empty catalog.
func NewInMemoryCatalog() *InMemoryCatalog {
	return &InMemoryCatalog{
		latest:   make(map[string]*Skill),
		versions: make(map[string]map[string]*Skill),
	}
}

// Get implements Catalog.
func (c *InMemoryCatalog) Get(_ context.Context, skillID string) (*Skill, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.latest[skillID]
	if !ok {
		return nil, errcode.New(errcode.SkillNotFound, fmt.Sprintf("skill %q not registered", skillID))
	}
	cp := *s
	return &cp, nil
}

// GetVersion implements Catalog.
func (c *InMemoryCatalog) GetVersion(_ context.Context, skillID, version string) (*Skill, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	versions, ok := c.versions[skillID]
	if !ok {
		return nil, errcode.New(errcode.SkillNotFound, fmt.Sprintf("skill %q not registered", skillID))
	}
	s, ok := versions[version]
	if !ok {
		return nil, errcode.New(errcode.SkillNotFound,
			fmt.Sprintf("skill %q has no version %q", skillID, version))
	}
	cp := *s
	return &cp, nil
}

// Put implements Catalog.
func (c *InMemoryCatalog) Put(_ context.Context, s *Skill) error {
	if err := s.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	versions, ok := c.versions[s.SkillID]
	if !ok {
		versions = make(map[string]*Skill)
		c.versions[s.SkillID] = versions
	}
	if _, exists := versions[s.Version]; exists {
		return errcode.New(errcode.SkillAlreadyExists,
			fmt.Sprintf("skill %q version %q already exists", s.SkillID, s.Version))
	}

	cp := *s
	versions[s.Version] = &cp

	current, hasLatest := c.latest[s.SkillID]
	if !hasLatest {
		c.latest[s.SkillID] = &cp
		return nil
	}
	newer, err := cp.NewerThan(current)
	if err != nil {
		return err
	}
	if newer {
		c.latest[s.SkillID] = &cp
	}
	return nil
}

// List implements Catalog.
func (c *InMemoryCatalog) List(_ context.Context, filter DiscoveryFilter) ([]*Skill, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	matches := make([]*Skill, 0, len(c.latest))
	for _, s := range c.latest {
		if !matchesFilter(s, filter) {
			continue
		}
		cp := *s
		matches = append(matches, &cp)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].SkillID < matches[j].SkillID })

	offset := filter.Offset
	if offset < 0 || offset > len(matches) {
		offset = len(matches)
	}
	matches = matches[offset:]
	if filter.Limit > 0 && filter.Limit < len(matches) {
		matches = matches[:filter.Limit]
	}
	return matches, nil
}

func matchesFilter(s *Skill, filter DiscoveryFilter) bool {
	if filter.Category != "" && s.Metadata.Category != filter.Category {
		return false
	}
	if filter.Language != "" && s.Language != filter.Language {
		return false
	}
	if filter.Author != "" && s.Metadata.Author != filter.Author {
		return false
	}
	if filter.Query != "" {
		q := strings.ToLower(filter.Query)
		if !strings.Contains(strings.ToLower(s.SkillID), q) &&
			!strings.Contains(strings.ToLower(s.Metadata.Name), q) &&
			!strings.Contains(strings.ToLower(s.Metadata.Description), q) {
			return false
		}
	}
	return true
}
