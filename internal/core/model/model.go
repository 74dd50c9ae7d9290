// Package model defines core domain types shared across the service.
package model

// Resource is one remote product file selected by the resolver.
type Resource struct {
	Key         string
	ProductID   string
	Description string
	Location    string
}

// Resources is an ordered mapping keyed by Resource.Key. Putting an existing
// key replaces its value but keeps its first position.
type Resources struct {
	items []Resource
	index map[string]int
}

func NewResources() *Resources {
	return &Resources{index: map[string]int{}}
}

func (rs *Resources) Put(r Resource) {
	if rs.index == nil {
		rs.index = map[string]int{}
	}
	if i, ok := rs.index[r.Key]; ok {
		rs.items[i] = r
		return
	}
	rs.index[r.Key] = len(rs.items)
	rs.items = append(rs.items, r)
}

func (rs *Resources) Get(key string) (Resource, bool) {
	if rs == nil {
		return Resource{}, false
	}
	i, ok := rs.index[key]
	if !ok {
		return Resource{}, false
	}
	return rs.items[i], true
}

func (rs *Resources) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.items)
}

// Items returns a copy of the entries in mapping order.
func (rs *Resources) Items() []Resource {
	if rs == nil {
		return nil
	}
	out := make([]Resource, len(rs.items))
	copy(out, rs.items)
	return out
}

// Locations returns the remote locations in mapping order.
func (rs *Resources) Locations() []string {
	if rs == nil {
		return nil
	}
	out := make([]string, len(rs.items))
	for i, r := range rs.items {
		out[i] = r.Location
	}
	return out
}
