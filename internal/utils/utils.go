package utils

import (
	"github.com/samber/lo"
)

// return left of digest, e.g. "sha256:f85340bf132ae1"
func ShortDigest(input string) string {
	return lo.Substring(input, 0, 19)
}
