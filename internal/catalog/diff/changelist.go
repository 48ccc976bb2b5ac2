package diff

// NamespaceChanges holds the changes found while processing one namespace.
type NamespaceChanges struct {
	Namespace string   `json:"namespace"`
	Changes   []Change `json:"changes"`
}

// Changelist is the run-wide collection handed to the changelist sink.
type Changelist struct {
	Changelist []NamespaceChanges `json:"changelist"`
}

// Merge appends the changes of one namespace. Namespaces without changes are
// dropped; a namespace merged twice has its changes concatenated in order.
func (c *Changelist) Merge(nc NamespaceChanges) {
	if len(nc.Changes) == 0 {
		return
	}
	for i := range c.Changelist {
		if c.Changelist[i].Namespace == nc.Namespace {
			c.Changelist[i].Changes = append(c.Changelist[i].Changes, nc.Changes...)
			return
		}
	}
	c.Changelist = append(c.Changelist, nc)
}

// Len returns the total number of change records.
func (c *Changelist) Len() int {
	n := 0
	for _, nc := range c.Changelist {
		n += len(nc.Changes)
	}
	return n
}

// Empty reports whether the changelist carries no records.
func (c *Changelist) Empty() bool {
	return c.Len() == 0
}
