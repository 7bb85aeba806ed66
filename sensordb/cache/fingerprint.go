package cache

import (
	"encoding/binary"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint hashes the logical query parameters into a cache key. Sensor
// and asset order does not matter: both sets are sorted before hashing.
func Fingerprint(sensors []string, start, end time.Time, assets []string, intervalMS int64, aggregation string, maxPoints int) uint64 {
	h := xxhash.New()

	writeSorted(h, sensors)
	writeString(h, start.UTC().Format(time.RFC3339Nano))
	writeString(h, end.UTC().Format(time.RFC3339Nano))
	writeSorted(h, assets)
	writeInt(h, intervalMS)
	writeString(h, aggregation)
	writeInt(h, int64(maxPoints))

	return h.Sum64()
}

func writeSorted(h *xxhash.Digest, values []string) {
	sorted := make([]string, len(values))
	copy(sorted, values)
	sort.Strings(sorted)
	for _, v := range sorted {
		writeString(h, v)
	}
	writeString(h, ";")
}

func writeString(h *xxhash.Digest, s string) {
	_, _ = h.WriteString(s)
	_, _ = h.Write([]byte{0})
}

func writeInt(h *xxhash.Digest, v int64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	_, _ = h.Write(buf[:])
}
