// Package diff turns two snapshots of a catalog item into an ordered list of
// typed change records.
//
// Records are produced in a fixed order: scalar fields, the known custom
// attributes, key images, categories, the first release entry, and EULA ids.
// Change types are colon-namespaced tags such as "update:title",
// "add:image:DieselGameBox" or "remove:FolderName".
package diff

import (
	"strings"

	"github.com/egdb/catalog-mirror/internal/catalog/schema"
)

// Change type prefixes.
const (
	OpAdd    = "add"
	OpUpdate = "update"
	OpRemove = "remove"
)

// TypeAddItem is the single record emitted for an item seen for the first time.
const TypeAddItem = "add:item"

// listSeparator joins list projections such as category paths and platforms.
const listSeparator = ", "

// Change is one field-level difference between two snapshots of an item.
type Change struct {
	Type      string `json:"type"`
	Item      string `json:"item"`
	From      any    `json:"from"`
	To        any    `json:"to"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// Op returns the prefix of the change type (add, update or remove).
func (c Change) Op() string {
	op, _, _ := strings.Cut(c.Type, ":")
	return op
}

// Field returns the part of the change type after the prefix.
func (c Change) Field() string {
	_, field, _ := strings.Cut(c.Type, ":")
	return field
}

// Diff compares prev with next. A nil prev yields a single add:item record.
// Absent collections compare as empty and absent scalars as zero values.
// UpdatedAt is left empty; see Stamp.
func Diff(prev, next *schema.Item) []Change {
	if next == nil {
		return nil
	}
	if prev == nil {
		return []Change{{Type: TypeAddItem, Item: next.ID, To: next.Title}}
	}

	d := &differ{id: next.ID}
	d.scalars(prev, next)
	d.attributes(prev, next)
	d.images(prev, next)
	d.categories(prev, next)
	d.releaseInfo(prev, next)
	d.eulaIDs(prev, next)
	return d.changes
}

// Stamp sets UpdatedAt on every change and returns the slice.
func Stamp(changes []Change, updatedAt string) []Change {
	for i := range changes {
		changes[i].UpdatedAt = updatedAt
	}
	return changes
}

type differ struct {
	id      string
	changes []Change
}

func (d *differ) emit(op, field string, from, to any) {
	d.changes = append(d.changes, Change{Type: op + ":" + field, Item: d.id, From: from, To: to})
}

func (d *differ) scalars(prev, next *schema.Item) {
	if prev.Title != next.Title {
		d.emit(OpUpdate, "title", prev.Title, next.Title)
	}
	if prev.Description != next.Description {
		d.emit(OpUpdate, "description", prev.Description, next.Description)
	}
	if prev.SelfRefundable != next.SelfRefundable {
		d.emit(OpUpdate, "selfRefundable", prev.SelfRefundable, next.SelfRefundable)
	}
	if prev.Unsearchable != next.Unsearchable {
		d.emit(OpUpdate, "unsearchable", prev.Unsearchable, next.Unsearchable)
	}
	if prev.Status != next.Status {
		d.emit(OpUpdate, "status", prev.Status, next.Status)
	}
	if prev.CreationDate != next.CreationDate {
		d.emit(OpUpdate, "creationDate", prev.CreationDate, next.CreationDate)
	}
}

func (d *differ) attributes(prev, next *schema.Item) {
	for _, key := range schema.KnownAttributes() {
		before, hadBefore := prev.Attribute(key)
		after, hasAfter := next.Attribute(key)

		switch {
		case hasAfter && !hadBefore:
			d.emit(OpAdd, key.String(), nil, after.StringValue())
		case hadBefore && !hasAfter:
			d.emit(OpRemove, key.String(), before.StringValue(), nil)
		case hadBefore && hasAfter && before.StringValue() != after.StringValue():
			d.emit(OpUpdate, key.String(), before.StringValue(), after.StringValue())
		}
	}
}

func (d *differ) images(prev, next *schema.Item) {
	before := prev.ImageByType()
	after := next.ImageByType()

	// next's document order first, then images only prev had
	seen := make(map[string]bool, len(after))
	for _, img := range next.KeyImages {
		if seen[img.Type] {
			continue
		}
		seen[img.Type] = true

		cur := after[img.Type]
		old, ok := before[img.Type]
		switch {
		case !ok:
			d.emit(OpAdd, "image:"+img.Type, nil, cur.URL)
		case old.URL != cur.URL:
			d.emit(OpUpdate, "image:"+img.Type, old.URL, cur.URL)
		}
	}
	for _, img := range prev.KeyImages {
		if seen[img.Type] {
			continue
		}
		seen[img.Type] = true
		d.emit(OpRemove, "image:"+img.Type, before[img.Type].URL, nil)
	}
}

func (d *differ) categories(prev, next *schema.Item) {
	before := prev.CategoryPaths()
	after := next.CategoryPaths()

	added := !containsAll(before, after)
	removed := !containsAll(after, before)
	if !added && !removed {
		return
	}

	from := strings.Join(before, listSeparator)
	to := strings.Join(after, listSeparator)
	if added {
		d.emit(OpAdd, "categories", from, to)
	}
	if removed {
		d.emit(OpRemove, "categories", from, to)
	}
}

func (d *differ) releaseInfo(prev, next *schema.Item) {
	before := prev.FirstReleaseInfo()
	after := next.FirstReleaseInfo()

	switch {
	case before == nil && after == nil:
		return
	case before == nil:
		d.emit(OpAdd, "releaseInfo", nil, after.AppID)
	case after == nil:
		d.emit(OpRemove, "releaseInfo", before.AppID, nil)
	default:
		if !equalOrdered(before.Platform, after.Platform) {
			d.emit(OpUpdate, "platform",
				strings.Join(before.Platform, listSeparator),
				strings.Join(after.Platform, listSeparator))
		}
		if before.AppID != after.AppID {
			d.emit(OpUpdate, "appId", before.AppID, after.AppID)
		}
	}
}

// eulaIDs reports additions only; removed EULA ids produce no record.
func (d *differ) eulaIDs(prev, next *schema.Item) {
	known := make(map[string]bool, len(prev.EulaIDs))
	for _, id := range prev.EulaIDs {
		known[id] = true
	}
	for _, id := range next.EulaIDs {
		if !known[id] {
			known[id] = true
			d.emit(OpAdd, "eulaId", nil, id)
		}
	}
}

// containsAll reports whether every element of sub is in set.
func containsAll(set, sub []string) bool {
	in := make(map[string]bool, len(set))
	for _, s := range set {
		in[s] = true
	}
	for _, s := range sub {
		if !in[s] {
			return false
		}
	}
	return true
}

func equalOrdered(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
