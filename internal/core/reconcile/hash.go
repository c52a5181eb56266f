package reconcile

import (
	"encoding/hex"
	"sort"
	"strings"

	"github.com/spaolacci/murmur3"
)

// FeaturePrefix marks keys that cannot be reconciled after a restore: the
// set of activated features is fixed in the image.
const FeaturePrefix = "features."

// FeatureHash hashes the feature keys of values. Two resolutions with the
// same enabled features produce the same hash.
func FeatureHash(values map[string]string) string {
	keys := make([]string, 0)
	for k := range values {
		if strings.HasPrefix(k, FeaturePrefix) || k == strings.TrimSuffix(FeaturePrefix, ".") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	h := murmur3.New128()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(values[k]))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
