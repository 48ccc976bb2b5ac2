package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrMalformedItem is returned when a stored item document cannot be parsed.
var ErrMalformedItem = errors.New("malformed item document")

// Item is a catalog item as mirrored from the remote catalog.
//
// Only the fields used for change detection and indexing are decoded. The
// complete document is kept in Raw so that writing the item back to disk does
// not drop fields the mirror does not model.
type Item struct {
	// ===== Identity =====
	ID        string `json:"id"`
	Namespace string `json:"namespace,omitempty"`

	// ===== Scalars =====
	Title            string `json:"title,omitempty"`
	Description      string `json:"description,omitempty"`
	Status           string `json:"status,omitempty"`
	Developer        string `json:"developer,omitempty"`
	CreationDate     string `json:"creationDate,omitempty"`
	LastModifiedDate string `json:"lastModifiedDate,omitempty"`
	SelfRefundable   bool   `json:"selfRefundable,omitempty"`
	Unsearchable     bool   `json:"unsearchable,omitempty"`

	// ===== Collections =====
	CustomAttributes map[string]CustomAttribute `json:"customAttributes,omitempty"`
	KeyImages        []KeyImage                 `json:"keyImages,omitempty"`
	Categories       []Category                 `json:"categories,omitempty"`
	ReleaseInfo      []ReleaseInfo              `json:"releaseInfo,omitempty"`
	EulaIDs          []string                   `json:"eulaIds,omitempty"`

	// Raw is the document as received. Empty for items built in code.
	Raw json.RawMessage `json:"-"`
}

// CustomAttribute is a typed entry of an item's customAttributes bag.
type CustomAttribute struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// StringValue returns the attribute value with string quoting removed.
// Non-string values are returned as compact JSON.
func (a CustomAttribute) StringValue() string {
	if len(a.Value) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(a.Value, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, a.Value); err != nil {
		return string(a.Value)
	}
	return buf.String()
}

// StringAttribute builds a STRING custom attribute.
func StringAttribute(value string) CustomAttribute {
	v, _ := json.Marshal(value)
	return CustomAttribute{Type: "STRING", Value: v}
}

// KeyImage is an item image tagged by its type discriminator.
type KeyImage struct {
	Type         string `json:"type"`
	URL          string `json:"url"`
	MD5          string `json:"md5,omitempty"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	UploadedDate string `json:"uploadedDate,omitempty"`
}

// Category is a catalog category reference.
type Category struct {
	Path string `json:"path"`
}

// ReleaseInfo describes one release of the item. The first entry is authoritative.
type ReleaseInfo struct {
	ID        string   `json:"id,omitempty"`
	AppID     string   `json:"appId,omitempty"`
	Platform  []string `json:"platform,omitempty"`
	DateAdded string   `json:"dateAdded,omitempty"`
}

// UnmarshalJSON decodes the typed fields and keeps a copy of the document.
// Custom attributes outside the known key set are dropped from the typed
// map; Raw still carries them.
func (it *Item) UnmarshalJSON(data []byte) error {
	type plain Item
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*it = Item(p)
	for name := range it.CustomAttributes {
		if _, ok := ParseAttributeKey(name); !ok {
			delete(it.CustomAttributes, name)
		}
	}
	it.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON returns the raw document when present, otherwise the typed fields.
func (it Item) MarshalJSON() ([]byte, error) {
	if len(it.Raw) > 0 {
		return it.Raw, nil
	}
	type plain Item
	return json.Marshal(plain(it))
}

// DecodeItem parses a single item document.
func DecodeItem(data []byte) (*Item, error) {
	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedItem, err)
	}
	return &item, nil
}

// Validate checks the fields the mirror relies on.
func (it *Item) Validate() error {
	if strings.TrimSpace(it.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if strings.ContainsAny(it.ID, `/\`) {
		return fmt.Errorf("id %q contains a path separator", it.ID)
	}
	return nil
}

// Filename returns the canonical filename for this item: {id}.json
func (it *Item) Filename() string {
	return fmt.Sprintf("%s.json", it.ID)
}

// CategoryPaths returns the category paths in document order.
func (it *Item) CategoryPaths() []string {
	paths := make([]string, 0, len(it.Categories))
	for _, c := range it.Categories {
		paths = append(paths, c.Path)
	}
	return paths
}

// ImageByType indexes key images by their type. Later duplicates win.
func (it *Item) ImageByType() map[string]KeyImage {
	images := make(map[string]KeyImage, len(it.KeyImages))
	for _, img := range it.KeyImages {
		images[img.Type] = img
	}
	return images
}

// FirstReleaseInfo returns the authoritative release entry, or nil.
func (it *Item) FirstReleaseInfo() *ReleaseInfo {
	if len(it.ReleaseInfo) == 0 {
		return nil
	}
	return &it.ReleaseInfo[0]
}

// Attribute returns the custom attribute for key, if present.
func (it *Item) Attribute(key AttributeKey) (CustomAttribute, bool) {
	if it.CustomAttributes == nil {
		return CustomAttribute{}, false
	}
	a, ok := it.CustomAttributes[string(key)]
	return a, ok
}

// CreationUnix returns creationDate in epoch seconds, 0 when missing or invalid.
func (it *Item) CreationUnix() int64 {
	return unixSeconds(it.CreationDate)
}

// LastModifiedUnix returns lastModifiedDate in epoch seconds, 0 when missing or invalid.
func (it *Item) LastModifiedUnix() int64 {
	return unixSeconds(it.LastModifiedDate)
}

func unixSeconds(s string) int64 {
	if s == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0
	}
	return t.Unix()
}

// Indented returns the item document pretty-printed with two-space indentation.
func (it *Item) Indented() ([]byte, error) {
	data, err := json.Marshal(it)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal item %s: %w", it.ID, err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return nil, fmt.Errorf("failed to indent item %s: %w", it.ID, err)
	}
	return buf.Bytes(), nil
}

// ReadItemFile reads and parses an item JSON file from the given path.
func ReadItemFile(path string) (*Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read item file %s: %w", path, err)
	}

	item, err := DecodeItem(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse item file %s: %w", path, err)
	}

	if err := item.Validate(); err != nil {
		return nil, fmt.Errorf("%w: invalid item file %s: %v", ErrMalformedItem, path, err)
	}

	return item, nil
}

// WriteItemFile writes an item to itemsDir/{id}.json.
// The previous file, if any, is replaced atomically.
func WriteItemFile(itemsDir string, item *Item) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("cannot write invalid item: %w", err)
	}

	if err := os.MkdirAll(itemsDir, 0755); err != nil {
		return fmt.Errorf("failed to create items directory: %w", err)
	}

	data, err := item.Indented()
	if err != nil {
		return err
	}

	return WriteFileAtomic(filepath.Join(itemsDir, item.Filename()), data)
}

// WriteFileAtomic writes data to a temp file next to path and renames it into place.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
