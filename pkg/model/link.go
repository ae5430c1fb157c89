package model

import (
	"fmt"
	"sort"
)

// LinkKey derives the store key addressing one link record.
func LinkKey(ownerUUID, containerUUID, alias string) (string, error) {
	switch {
	case ownerUUID == "":
		return "", &InvalidArgumentError{Name: "owner_uuid"}
	case containerUUID == "":
		return "", &InvalidArgumentError{Name: "container_uuid"}
	case alias == "":
		return "", &InvalidArgumentError{Name: "alias"}
	}
	return fmt.Sprintf("%s-%s-%s", ownerUUID, containerUUID, alias), nil
}

// Link records a name alias from one container to another. Unlike images,
// links carry no refcounting and their display fields are mutated in place,
// then persisted with Catalog.SaveLink.
type Link struct {
	ownerUUID     string
	containerUUID string
	alias         string

	// Mutable display metadata.
	ContainerName string
	TargetUUID    string
	TargetName    string
}

// NewLink validates raw link data. owner_uuid, container_uuid and alias are
// required; the display fields are optional strings.
func NewLink(raw map[string]any) (*Link, error) {
	var bad []string

	l := &Link{}
	var ok bool
	if l.ownerUUID, ok = rawString(raw, "owner_uuid"); !ok {
		bad = append(bad, "owner_uuid")
	}
	if l.containerUUID, ok = rawString(raw, "container_uuid"); !ok {
		bad = append(bad, "container_uuid")
	}
	if l.alias, ok = rawString(raw, "alias"); !ok {
		bad = append(bad, "alias")
	}
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"container_name", &l.ContainerName},
		{"target_uuid", &l.TargetUUID},
		{"target_name", &l.TargetName},
	} {
		if v, present := raw[f.name]; present && v != nil {
			if s, isStr := v.(string); isStr {
				*f.dst = s
			} else {
				bad = append(bad, f.name)
			}
		}
	}

	if len(bad) > 0 {
		sort.Strings(bad)
		return nil, &ValidationError{Kind: "link", Fields: bad}
	}
	return l, nil
}

func (l *Link) OwnerUUID() string     { return l.ownerUUID }
func (l *Link) ContainerUUID() string { return l.containerUUID }
func (l *Link) Alias() string         { return l.alias }

func (l *Link) Key() string {
	key, _ := LinkKey(l.ownerUUID, l.containerUUID, l.alias)
	return key
}

func (l *Link) Serialize() map[string]any {
	return map[string]any{
		"owner_uuid":     l.ownerUUID,
		"container_uuid": l.containerUUID,
		"alias":          l.alias,
		"container_name": l.ContainerName,
		"target_uuid":    l.TargetUUID,
		"target_name":    l.TargetName,
	}
}
