package store

import (
	"bytes"
	"hash/crc32"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// A stream_dataset's rows are stored one page per item: self-describing
// magic/codec/length/crc32 header followed by a compressed JSON row batch.
// Keeping one page per Store item lets stream_dataset reuse the existing
// prefetch-ahead item reader instead of a second, dataset-wide file format.
//
// Layout: magic(4) | codecLen(1) | codec | rowCount(4) | payloadLen(4) |
// crc32(4) | payload.
const pageMagic uint32 = 0x50554c53 // "PULS"

// encodePage serializes rows into one checksummed, codec-compressed page.
func encodePage(codec Compression, rows []Row) ([]byte, error) {
	raw, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("store: encode page: %w", err)
	}
	payload, err := compress(codec, raw)
	if err != nil {
		return nil, err
	}
	sum := crc32.ChecksumIEEE(payload)

	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, pageMagic)
	buf.WriteByte(byte(len(codec)))
	buf.WriteString(string(codec))
	binary.Write(&buf, binary.BigEndian, uint32(len(rows)))
	binary.Write(&buf, binary.BigEndian, uint32(len(payload)))
	binary.Write(&buf, binary.BigEndian, sum)
	buf.Write(payload)
	return buf.Bytes(), nil
}

// decodePage verifies and decodes one page produced by encodePage. A
// checksum mismatch is reported rather than returning corrupted rows.
func decodePage(data []byte) ([]Row, error) {
	r := bytes.NewReader(data)

	var magic uint32
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return nil, fmt.Errorf("store: read page magic: %w", err)
	}
	if magic != pageMagic {
		return nil, fmt.Errorf("store: corrupt page: bad magic")
	}

	codecLen, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	codecBytes := make([]byte, codecLen)
	if _, err := io.ReadFull(r, codecBytes); err != nil {
		return nil, err
	}
	codec := Compression(codecBytes)

	var rowCount, payloadLen, sum uint32
	if err := binary.Read(r, binary.BigEndian, &rowCount); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &payloadLen); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &sum); err != nil {
		return nil, err
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("store: read page payload: %w", err)
	}
	if crc32.ChecksumIEEE(payload) != sum {
		return nil, fmt.Errorf("store: page checksum mismatch")
	}

	raw, err := decompress(codec, payload)
	if err != nil {
		return nil, err
	}
	var rows []Row
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("store: decode page: %w", err)
	}
	if len(rows) != int(rowCount) {
		return nil, fmt.Errorf("store: page row count mismatch: header=%d decoded=%d", rowCount, len(rows))
	}
	return rows, nil
}
