package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	// CurrentSchemaVersion is written by Encode.
	CurrentSchemaVersion uint8 = 2

	schemaVersionV1 uint8 = 1

	maxMetadataBytes = 1 << 20
)

// Encode serializes rec using the current schema.
//
// Layout (big endian):
//
//	version u8
//	user_id u8 len + bytes
//	email u8 len + bytes
//	display_name u16 len + bytes      (v2+)
//	metadata u32 len + bytes          (v2+)
//	access_token u16 len + bytes
//	refresh_token u16 len + bytes
//	created_at i64
//	expires_at i64
func Encode(rec *Record) ([]byte, error) {
	if rec == nil {
		return nil, errors.New("nil record")
	}
	if rec.UserID == "" {
		return nil, errors.New("userID required")
	}

	var buf bytes.Buffer
	buf.WriteByte(CurrentSchemaVersion)

	if err := writeShort(&buf, "userID", rec.UserID); err != nil {
		return nil, err
	}
	if err := writeShort(&buf, "email", rec.Email); err != nil {
		return nil, err
	}
	if err := writeU16(&buf, "displayName", []byte(rec.DisplayName)); err != nil {
		return nil, err
	}

	if len(rec.Metadata) > maxMetadataBytes {
		return nil, errors.New("metadata too large")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(rec.Metadata))); err != nil {
		return nil, err
	}
	buf.Write(rec.Metadata)

	if err := writeU16(&buf, "accessToken", []byte(rec.AccessToken)); err != nil {
		return nil, err
	}
	if err := writeU16(&buf, "refreshToken", []byte(rec.RefreshToken)); err != nil {
		return nil, err
	}

	if err := binary.Write(&buf, binary.BigEndian, rec.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.ExpiresAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a blob written by any supported schema version. The returned
// record keeps the version it was read from in SchemaVersion.
func Decode(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != CurrentSchemaVersion && version != schemaVersionV1 {
		return nil, fmt.Errorf("unsupported session schema version %d", version)
	}

	rec := &Record{SchemaVersion: version}

	if rec.UserID, err = readShort(reader); err != nil {
		return nil, err
	}
	if rec.UserID == "" {
		return nil, errors.New("empty userID")
	}
	if rec.Email, err = readShort(reader); err != nil {
		return nil, err
	}

	if version >= CurrentSchemaVersion {
		name, err := readU16(reader)
		if err != nil {
			return nil, err
		}
		rec.DisplayName = string(name)

		var metaLen uint32
		if err := binary.Read(reader, binary.BigEndian, &metaLen); err != nil {
			return nil, err
		}
		if metaLen > maxMetadataBytes || int64(metaLen) > int64(reader.Len()) {
			return nil, errors.New("metadata length out of range")
		}
		if metaLen > 0 {
			rec.Metadata = make([]byte, metaLen)
			if _, err := io.ReadFull(reader, rec.Metadata); err != nil {
				return nil, err
			}
		}
	}

	access, err := readU16(reader)
	if err != nil {
		return nil, err
	}
	rec.AccessToken = string(access)

	refresh, err := readU16(reader)
	if err != nil {
		return nil, err
	}
	rec.RefreshToken = string(refresh)

	if err := binary.Read(reader, binary.BigEndian, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &rec.ExpiresAt); err != nil {
		return nil, err
	}

	return rec, nil
}

func writeShort(buf *bytes.Buffer, field, v string) error {
	if len(v) > math.MaxUint8 {
		return fmt.Errorf("%s too long", field)
	}
	buf.WriteByte(byte(len(v)))
	buf.WriteString(v)
	return nil
}

func writeU16(buf *bytes.Buffer, field string, v []byte) error {
	if len(v) > math.MaxUint16 {
		return fmt.Errorf("%s too long", field)
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(v))); err != nil {
		return err
	}
	buf.Write(v)
	return nil
}

func readShort(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func readU16(r *bytes.Reader) ([]byte, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
