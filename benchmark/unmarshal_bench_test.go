package benchmark

import (
	"testing"

	"github.com/LyrinoxTechnologies/tempest/benchmark/payloads"
)

func BenchmarkProtowire_Login_Unmarshal(b *testing.B) {
	data := pbMarshalLogin(loginTestUsername, loginTestPassword, loginTestClientID)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, _, err := pbUnmarshalLogin(data); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkTempest_Login_Unmarshal(b *testing.B) {
	msg := &payloads.LoginRequest{Username: loginTestUsername, Password: loginTestPassword, ClientID: loginTestClientID}
	data, _ := msg.Marshal()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var out payloads.LoginRequest
		if err := out.Unmarshal(data); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkProtowire_Blob_Unmarshal(b *testing.B) {
	data := pbMarshalBlob(blobTestData)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := pbUnmarshalBlob(data); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkTempest_Blob_Unmarshal(b *testing.B) {
	msg := &payloads.Blob{Data: blobTestData}
	data, _ := msg.Marshal()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var out payloads.Blob
		if err := out.Unmarshal(data); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkProtowire_Bulk_Unmarshal(b *testing.B) {
	data := pbMarshalBulk(bulkTestData)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := pbUnmarshalBulk(data); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkTempest_Bulk_Unmarshal(b *testing.B) {
	msg := &payloads.BulkData{Values: bulkTestData}
	data, _ := msg.Marshal()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var out payloads.BulkData
		if err := out.Unmarshal(data); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkProtowire_Metrics_Unmarshal(b *testing.B) {
	data := pbMarshalMetrics(1, 2, 3, 4, 5)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, _, _, _, err := pbUnmarshalMetrics(data); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkTempest_Metrics_Unmarshal(b *testing.B) {
	msg := &payloads.Metrics{A: 1, B: 2, C: 3, D: 4, E: 5}
	data, _ := msg.Marshal()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var out payloads.Metrics
		if err := out.Unmarshal(data); err != nil {
			b.Fatal(err)
		}
	}
}

// TestMessageSize logs the relative wire size of each payload shape under
// both codecs rather than asserting an exact byte count, since the point
// is the comparison, not a brittle magic number.
func TestMessageSize(t *testing.T) {
	login := &payloads.LoginRequest{Username: loginTestUsername, Password: loginTestPassword, ClientID: loginTestClientID}
	tData, _ := login.Marshal()
	pData := pbMarshalLogin(loginTestUsername, loginTestPassword, loginTestClientID)
	t.Logf("login: tempest=%d bytes protowire=%d bytes", len(tData), len(pData))

	blob := &payloads.Blob{Data: blobTestData}
	tBlob, _ := blob.Marshal()
	pBlob := pbMarshalBlob(blobTestData)
	t.Logf("blob: tempest=%d bytes protowire=%d bytes", len(tBlob), len(pBlob))
}
