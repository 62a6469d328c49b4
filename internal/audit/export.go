package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// exportMagic tags the archive format version.
var exportMagic = []byte("QGA1")

// checksumSize is the BLAKE3 digest length in the header.
const checksumSize = 32

// ErrChecksum is returned when an archive does not match its checksum.
var ErrChecksum = errors.New("audit archive checksum mismatch")

// entry is one JSON line of an archive.
type entry struct {
	Detection *Detection `json:"detection,omitempty"`
	Outcome   *Record    `json:"outcome,omitempty"`
}

// Export serializes both logs into a compressed archive:
// [4B magic][32B blake3(body)][zstd(body)], body being JSON lines.
func Export(detections []Detection, outcomes []Record) ([]byte, error) {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)

	for i := range detections {
		if err := enc.Encode(entry{Detection: &detections[i]}); err != nil {
			return nil, fmt.Errorf("encode detection %d:\n%w", detections[i].Seq, err)
		}
	}

	for i := range outcomes {
		if err := enc.Encode(entry{Outcome: &outcomes[i]}); err != nil {
			return nil, fmt.Errorf("encode outcome %d:\n%w", outcomes[i].Seq, err)
		}
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder:\n%w", err)
	}
	defer encoder.Close()

	sum := blake3.Sum256(body.Bytes())

	out := make([]byte, 0, len(exportMagic)+checksumSize+body.Len()/4)
	out = append(out, exportMagic...)
	out = append(out, sum[:]...)

	return encoder.EncodeAll(body.Bytes(), out), nil
}

// Import decodes an archive produced by Export, verifying its checksum.
func Import(data []byte) ([]Detection, []Record, error) {
	if len(data) < len(exportMagic)+checksumSize || !bytes.Equal(data[:len(exportMagic)], exportMagic) {
		return nil, nil, fmt.Errorf("not an audit archive")
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create zstd decoder:\n%w", err)
	}
	defer decoder.Close()

	header := data[len(exportMagic) : len(exportMagic)+checksumSize]

	body, err := decoder.DecodeAll(data[len(exportMagic)+checksumSize:], nil)
	if err != nil {
		return nil, nil, fmt.Errorf("decompress archive:\n%w", err)
	}

	sum := blake3.Sum256(body)
	if !bytes.Equal(sum[:], header) {
		return nil, nil, ErrChecksum
	}

	var detections []Detection
	var outcomes []Record

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 64<<10), 4<<20)

	for scanner.Scan() {
		var e entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, nil, fmt.Errorf("decode archive line:\n%w", err)
		}

		switch {
		case e.Detection != nil:
			detections = append(detections, *e.Detection)
		case e.Outcome != nil:
			outcomes = append(outcomes, *e.Outcome)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("read archive:\n%w", err)
	}

	return detections, outcomes, nil
}
