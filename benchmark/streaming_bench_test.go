package benchmark

import (
	"testing"

	"github.com/LyrinoxTechnologies/tempest/benchmark/payloads"
)

var (
	largeBlobData = make([]byte, 1024*1024)
	hugeBlobData  = make([]byte, 10*1024*1024)
)

func init() {
	for i := range largeBlobData {
		largeBlobData[i] = byte(i % 256)
	}
	for i := range hugeBlobData {
		hugeBlobData[i] = byte(i % 256)
	}
}

func BenchmarkProtowire_LargeBlob_Marshal(b *testing.B) {
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = pbMarshalBlob(largeBlobData)
	}
}

func BenchmarkProtowire_HugeBlob_Marshal(b *testing.B) {
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = pbMarshalBlob(hugeBlobData)
	}
}

func BenchmarkTempest_LargeBlob_Marshal(b *testing.B) {
	msg := &payloads.Blob{Data: largeBlobData}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := msg.Marshal(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkTempest_HugeBlob_Marshal(b *testing.B) {
	msg := &payloads.Blob{Data: hugeBlobData}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := msg.Marshal(); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkTempest_LargeBlob_Fragmented measures the cost of splitting an
// already-marshaled large blob into fragmentSize pieces the way
// splitIntoFragments does for oversized UDP payloads (spec.md §4.6), without
// pulling in a live PartialPool/connection pair.
func BenchmarkTempest_LargeBlob_Fragmented(b *testing.B) {
	const fragmentSize = 64 * 1024
	msg := &payloads.Blob{Data: largeBlobData}
	data, err := msg.Marshal()
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for offset := 0; offset < len(data); offset += fragmentSize {
			end := offset + fragmentSize
			if end > len(data) {
				end = len(data)
			}
			chunk := data[offset:end]
			_ = chunk
		}
	}
}
