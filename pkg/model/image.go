package model

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultIndexName is the registry index assumed for records created before
// multi-index support existed.
const DefaultIndexName = "docker.io"

// ImageKey derives the store key addressing one image record. The triple is
// the natural identity of a record: the same layer pulled by two owners, or
// from two indexes, lives under two distinct keys.
func ImageKey(ownerUUID, indexName, dockerID string) (string, error) {
	switch {
	case ownerUUID == "":
		return "", &InvalidArgumentError{Name: "owner_uuid"}
	case indexName == "":
		return "", &InvalidArgumentError{Name: "index_name"}
	case dockerID == "":
		return "", &InvalidArgumentError{Name: "docker_id"}
	}
	return fmt.Sprintf("%s-%s-%s", ownerUUID, indexName, dockerID), nil
}

// Image is one layer or tagged image in one owner's catalog, pulled from one
// registry index. Identity fields are immutable; every mutation constructs a
// new instance from merged raw data.
type Image struct {
	ownerUUID       string
	indexName       string
	dockerID        string
	imageUUID       string
	parent          string
	heads           []string
	head            bool
	architecture    string
	author          string
	comment         string
	config          map[string]any
	containerConfig map[string]any
	created         int64 // epoch millis
	size            int64
	virtualSize     int64
	private         bool
}

// NewImage validates raw record data and applies construction defaults.
// Required: owner_uuid, docker_id, image_uuid, created, size, virtual_size
// and head. heads, if present, must be an array of strings. Indexed string
// fields default to "" rather than null because the backing index requires a
// concrete string type.
func NewImage(raw map[string]any) (*Image, error) {
	var bad []string

	img := &Image{
		indexName:    DefaultIndexName,
		heads:        []string{},
		architecture: "",
		author:       "",
		comment:      "",
		private:      false,
	}

	var ok bool
	if img.ownerUUID, ok = rawString(raw, "owner_uuid"); !ok {
		bad = append(bad, "owner_uuid")
	}
	if img.dockerID, ok = rawString(raw, "docker_id"); !ok {
		bad = append(bad, "docker_id")
	}
	if img.imageUUID, ok = rawString(raw, "image_uuid"); !ok {
		bad = append(bad, "image_uuid")
	}
	if img.created, ok = rawInt(raw, "created"); !ok {
		bad = append(bad, "created")
	}
	if img.size, ok = rawInt(raw, "size"); !ok {
		bad = append(bad, "size")
	}
	if img.virtualSize, ok = rawInt(raw, "virtual_size"); !ok {
		bad = append(bad, "virtual_size")
	}
	if img.head, ok = rawBool(raw, "head"); !ok {
		bad = append(bad, "head")
	}

	if v, present := raw["index_name"]; present && v != nil {
		if s, isStr := v.(string); isStr && s != "" {
			img.indexName = s
		} else {
			bad = append(bad, "index_name")
		}
	}
	if v, present := raw["heads"]; present && v != nil {
		if heads, isList := rawStrings(v); isList {
			img.heads = heads
		} else {
			bad = append(bad, "heads")
		}
	}
	if v, present := raw["parent"]; present && v != nil {
		if s, isStr := v.(string); isStr {
			img.parent = s
		} else {
			bad = append(bad, "parent")
		}
	}
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"architecture", &img.architecture},
		{"author", &img.author},
		{"comment", &img.comment},
	} {
		if v, present := raw[f.name]; present && v != nil {
			if s, isStr := v.(string); isStr {
				*f.dst = s
			} else {
				bad = append(bad, f.name)
			}
		}
	}
	if v, present := raw["private"]; present && v != nil {
		if b, isBool := v.(bool); isBool {
			img.private = b
		} else {
			bad = append(bad, "private")
		}
	}
	img.config = rawObject(raw, "config")
	img.containerConfig = rawObject(raw, "container_config")

	if len(bad) > 0 {
		sort.Strings(bad)
		return nil, &ValidationError{Kind: "image", Fields: bad}
	}
	return img, nil
}

func (i *Image) OwnerUUID() string               { return i.ownerUUID }
func (i *Image) IndexName() string               { return i.indexName }
func (i *Image) DockerID() string                { return i.dockerID }
func (i *Image) ImageUUID() string               { return i.imageUUID }
func (i *Image) Parent() string                  { return i.parent }
func (i *Image) Head() bool                      { return i.head }
func (i *Image) Architecture() string            { return i.architecture }
func (i *Image) Author() string                  { return i.author }
func (i *Image) Comment() string                 { return i.comment }
func (i *Image) Config() map[string]any          { return i.config }
func (i *Image) ContainerConfig() map[string]any { return i.containerConfig }
func (i *Image) Created() int64                  { return i.created }
func (i *Image) Size() int64                     { return i.size }
func (i *Image) VirtualSize() int64              { return i.virtualSize }
func (i *Image) Private() bool                   { return i.private }

// Heads returns the reverse-reachability index: the docker_ids of the head
// images whose ancestry chain passes through this record. Order carries no
// meaning.
func (i *Image) Heads() []string {
	out := make([]string, len(i.heads))
	copy(out, i.heads)
	return out
}

// Refcount is derived, never stored.
func (i *Image) Refcount() int { return len(i.heads) }

// Key returns the store key for this record. Identity fields were validated
// at construction, so derivation cannot fail here.
func (i *Image) Key() string {
	key, _ := ImageKey(i.ownerUUID, i.indexName, i.dockerID)
	return key
}

// Serialize returns the flat structure written to the store: every field
// except the derived refcount. A serialized record round-trips through
// NewImage with no further normalization.
func (i *Image) Serialize() map[string]any {
	return map[string]any{
		"owner_uuid":       i.ownerUUID,
		"index_name":       i.indexName,
		"docker_id":        i.dockerID,
		"image_uuid":       i.imageUUID,
		"parent":           i.parent,
		"heads":            i.Heads(),
		"head":             i.head,
		"architecture":     i.architecture,
		"author":           i.author,
		"comment":          i.comment,
		"config":           i.config,
		"container_config": i.containerConfig,
		"created":          i.created,
		"size":             i.size,
		"virtual_size":     i.virtualSize,
		"private":          i.private,
	}
}

// HistoryItem is the ancestry-display projection of a record.
type HistoryItem struct {
	Created   int64  `json:"Created"` // epoch seconds
	CreatedBy string `json:"CreatedBy"`
	Id        string `json:"Id"`
	Size      int64  `json:"Size"`
}

// ToHistoryItem projects the record for `docker history` style output.
// CreatedBy is the space-joined command vector at container_config.Cmd when
// present.
func (i *Image) ToHistoryItem() HistoryItem {
	createdBy := ""
	if i.containerConfig != nil {
		if cmd, ok := rawStrings(i.containerConfig["Cmd"]); ok {
			createdBy = strings.Join(cmd, " ")
		}
	}
	return HistoryItem{
		Created:   i.created / 1000,
		CreatedBy: createdBy,
		Id:        i.dockerID,
		Size:      i.size,
	}
}

// raw map coercion helpers. Values decoded from stored JSON arrive as
// float64/[]any, values passed by in-process callers as int64/[]string; both
// shapes are accepted.

func rawString(raw map[string]any, key string) (string, bool) {
	s, ok := raw[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func rawInt(raw map[string]any, key string) (int64, bool) {
	switch v := raw[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

func rawBool(raw map[string]any, key string) (bool, bool) {
	b, ok := raw[key].(bool)
	return b, ok
}

func rawObject(raw map[string]any, key string) map[string]any {
	m, ok := raw[key].(map[string]any)
	if !ok {
		return nil
	}
	return m
}

func rawStrings(v any) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		out := make([]string, len(list))
		copy(out, list)
		return out, true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
