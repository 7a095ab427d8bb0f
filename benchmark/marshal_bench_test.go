package benchmark

import (
	"testing"

	"github.com/LyrinoxTechnologies/tempest/benchmark/payloads"
)

var (
	loginTestUsername = "john.doe@example.com"
	loginTestPassword = "super_secret_password_123"
	loginTestClientID = "client-abc-123-xyz"

	blobTestData = []byte("this is some test blob data")
	bulkTestData = []uint32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
)

func BenchmarkProtowire_Login_Marshal(b *testing.B) {
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = pbMarshalLogin(loginTestUsername, loginTestPassword, loginTestClientID)
	}
}

func BenchmarkTempest_Login_Marshal(b *testing.B) {
	msg := &payloads.LoginRequest{
		Username: loginTestUsername,
		Password: loginTestPassword,
		ClientID: loginTestClientID,
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := msg.Marshal(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkProtowire_Blob_Marshal(b *testing.B) {
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = pbMarshalBlob(blobTestData)
	}
}

func BenchmarkTempest_Blob_Marshal(b *testing.B) {
	msg := &payloads.Blob{Data: blobTestData}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := msg.Marshal(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkProtowire_Bulk_Marshal(b *testing.B) {
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = pbMarshalBulk(bulkTestData)
	}
}

func BenchmarkTempest_Bulk_Marshal(b *testing.B) {
	msg := &payloads.BulkData{Values: bulkTestData}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := msg.Marshal(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkProtowire_Metrics_Marshal(b *testing.B) {
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = pbMarshalMetrics(100, 200, 300, 400, 500)
	}
}

func BenchmarkTempest_Metrics_Marshal(b *testing.B) {
	msg := &payloads.Metrics{A: 100, B: 200, C: 300, D: 400, E: 500}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := msg.Marshal(); err != nil {
			b.Fatal(err)
		}
	}
}
