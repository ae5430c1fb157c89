package model

import (
	"github.com/google/uuid"
)

// imageUUIDSpace namespaces the derived image UUIDs so they cannot collide
// with UUIDs minted elsewhere in the platform.
var imageUUIDSpace = uuid.MustParse("a0e8d2f4-6c1b-4c5e-9d3a-7b2f0c4e8a61")

// ImageUUIDFromDockerInfo deterministically derives the cross-tenant image
// UUID from the registry-protocol content id and the index it was pulled
// from. Two records with the same (docker_id, index_name) pair always map to
// the same UUID, regardless of owner.
func ImageUUIDFromDockerInfo(dockerID, indexName string) string {
	return uuid.NewSHA1(imageUUIDSpace, []byte(dockerID+":"+indexName)).String()
}
