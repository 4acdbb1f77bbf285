package pipeline

import (
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/animita-app/animitas-sub001/internal/core/model"
)

// Context owns one session's state and its derived filtered dataset. Every
// mutation recomputes synchronously; on failure the previous state is kept
// and the error returned.
type Context struct {
	mu       sync.Mutex
	base     []model.Memorial
	state    State
	filtered []model.Record
	subs     map[int]func([]model.Record)
	nextSub  int
}

func NewContext(base []model.Memorial) *Context {
	c := &Context{
		base:  slices.Clone(base),
		state: State{Filters: Filters{}},
		subs:  make(map[int]func([]model.Record)),
	}
	// an empty state cannot fail
	c.filtered, _ = Recompute(c.base, c.state)
	return c
}

// State returns a copy of the current state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Filtered returns the current derived dataset.
func (c *Context) Filtered() []model.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.filtered)
}

// Subscribe registers fn to receive every new filtered dataset. fn runs with
// the context locked and must not call back into it.
func (c *Context) Subscribe(fn func([]model.Record)) (cancel func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Context) SetActiveArea(area ActiveArea, label string) error {
	area.Label = label
	return c.update(func(s *State) { s.Area = &area })
}

func (c *Context) ClearActiveArea() error {
	return c.update(func(s *State) { s.Area = nil })
}

func (c *Context) SetFilter(attr string, values []string) error {
	return c.update(func(s *State) { s.Filters = s.Filters.Set(attr, values) })
}

func (c *Context) ToggleFilter(attr, value string) error {
	return c.update(func(s *State) { s.Filters = s.Filters.Toggle(attr, value) })
}

func (c *Context) ClearFilters() error {
	return c.update(func(s *State) { s.Filters = Filters{} })
}

// AddSyntheticPoint merges m into the dataset for this session only. An
// empty id is replaced with a generated one, which is returned.
func (c *Context) AddSyntheticPoint(m model.Memorial) (string, error) {
	if m.ID == "" {
		m.ID = "synthetic-" + uuid.NewString()
	}
	return m.ID, c.update(func(s *State) { s.Synthetic = append(s.Synthetic, m) })
}

func (c *Context) ClearSyntheticPoints() error {
	return c.update(func(s *State) { s.Synthetic = nil })
}

// SetBase swaps the base dataset, keeping the session state.
func (c *Context) SetBase(base []model.Memorial) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	nb := slices.Clone(base)
	out, err := Recompute(nb, c.state)
	if err != nil {
		return err
	}
	c.base = nb
	c.commit(c.state, out)
	return nil
}

func (c *Context) update(mut func(*State)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.state.clone()
	mut(&next)
	out, err := Recompute(c.base, next)
	if err != nil {
		return err
	}
	c.commit(next, out)
	return nil
}

func (c *Context) commit(st State, out []model.Record) {
	c.state = st
	c.filtered = out
	for _, fn := range c.subs {
		fn(slices.Clone(out))
	}
}
