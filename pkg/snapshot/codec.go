package snapshot

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/sutraworks/sutra/pkg/core"
)

// Snapshot file layout: 4-byte magic, 4-byte CRC32 (IEEE) of the body,
// msgpack body. The CRC catches torn writes and bit rot at load time.
var magic = [4]byte{'S', 'U', 'T', 'R'}

const headerSize = 8

// encode marshals a document and prefixes the integrity header.
func encode(v any) ([]byte, error) {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("snapshot encode: %w", err)
	}

	out := make([]byte, headerSize+len(body))
	copy(out[:4], magic[:])
	binary.LittleEndian.PutUint32(out[4:8], crc32.ChecksumIEEE(body))
	copy(out[headerSize:], body)
	return out, nil
}

// decode verifies the header and unmarshals the body into v.
func decode(data []byte, v any) error {
	if len(data) < headerSize {
		return fmt.Errorf("%w: snapshot truncated (%d bytes)", core.ErrInvalidInput, len(data))
	}
	if [4]byte(data[:4]) != magic {
		return fmt.Errorf("%w: bad snapshot magic", core.ErrInvalidInput)
	}
	body := data[headerSize:]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(data[4:8]) {
		return fmt.Errorf("%w: snapshot checksum mismatch", core.ErrInvalidInput)
	}
	if err := msgpack.Unmarshal(body, v); err != nil {
		return fmt.Errorf("snapshot decode: %w", err)
	}
	return nil
}
