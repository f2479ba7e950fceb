package session

import (
	"bytes"
	"testing"
)

// FuzzRecordDecode exercises the binary decoder with arbitrary inputs.
// Goal: no panics, and anything that decodes re-encodes to the same record.
func FuzzRecordDecode(f *testing.F) {
	encoded, err := Encode(&Record{
		UserID:       "user1",
		Email:        "user1@clinic.test",
		DisplayName:  "User One",
		Metadata:     []byte(`{"a":1}`),
		AccessToken:  "access",
		RefreshToken: "refresh",
		CreatedAt:    1700000000,
		ExpiresAt:    1700003600,
	})
	if err == nil {
		f.Add(encoded)
	}

	f.Add([]byte{})
	f.Add([]byte{0})
	f.Add([]byte{CurrentSchemaVersion})
	f.Add([]byte{255, 255, 255})
	f.Add([]byte{CurrentSchemaVersion, 1, 'u', 0, 0, 0, 0xff, 0xff, 0xff, 0xff})

	if len(encoded) > 10 {
		f.Add(encoded[:10])
	}
	if len(encoded) > 30 {
		f.Add(encoded[:30])
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		rec, err := Decode(data)
		if err != nil {
			return
		}
		if rec.SchemaVersion != CurrentSchemaVersion {
			return
		}
		out, err := Encode(rec)
		if err != nil {
			t.Fatalf("re-encode of decoded record failed: %v", err)
		}
		again, err := Decode(out)
		if err != nil {
			t.Fatalf("decode of re-encoded record failed: %v", err)
		}
		if again.UserID != rec.UserID || again.RefreshToken != rec.RefreshToken || !bytes.Equal(again.Metadata, rec.Metadata) {
			t.Fatalf("round trip mismatch")
		}
	})
}
