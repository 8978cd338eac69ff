// Package pack implements the compressed batch format assets travel in:
// a zstd stream wrapping a length-prefixed JSON header followed by the
// concatenated asset bytes. Every asset is digest-verified on ingest.
//
// Pack layout (before compression):
//
//	[4 bytes: header length (big-endian)]
//	[header JSON: proto.PackHeader]
//	[asset data...]
package pack

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"graphmirror/asset"
	"graphmirror/cas"
	"graphmirror/graph"
	"graphmirror/proto"
)

const (
	headerLengthSize = 4
	maxHeaderSize    = 10 * 1024 * 1024
)

// Build creates a zstd-compressed pack from assets.
func Build(assets []*asset.Asset) ([]byte, error) {
	var header proto.PackHeader
	var data bytes.Buffer

	for _, a := range assets {
		header.Objects = append(header.Objects, proto.PackObjectEntry{
			Checksum: a.Sum.Hex(),
			Kind:     string(a.Kind),
			Offset:   int64(data.Len()),
			Length:   int64(len(a.Data)),
		})
		data.Write(a.Data)
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("marshaling header: %w", err)
	}

	var raw bytes.Buffer
	headerLen := make([]byte, headerLengthSize)
	binary.BigEndian.PutUint32(headerLen, uint32(len(headerJSON)))
	raw.Write(headerLen)
	raw.Write(headerJSON)
	raw.Write(data.Bytes())

	var compressed bytes.Buffer
	encoder, err := zstd.NewWriter(&compressed)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	if _, err := encoder.Write(raw.Bytes()); err != nil {
		encoder.Close()
		return nil, fmt.Errorf("compressing: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("closing encoder: %w", err)
	}

	return compressed.Bytes(), nil
}

// Ingest reads a zstd-compressed pack and returns its assets keyed by
// fingerprint. Each asset's content is hashed and checked against its
// header entry; a mismatch fails the whole pack.
func Ingest(r io.Reader) (map[cas.Fingerprint]*asset.Asset, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer decoder.Close()

	decompressed, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}

	if len(decompressed) < headerLengthSize {
		return nil, fmt.Errorf("pack too small: %d bytes", len(decompressed))
	}

	headerLen := binary.BigEndian.Uint32(decompressed[:headerLengthSize])
	if headerLen > maxHeaderSize {
		return nil, fmt.Errorf("header too large: %d bytes", headerLen)
	}
	if int(headerLengthSize+headerLen) > len(decompressed) {
		return nil, fmt.Errorf("header length exceeds pack size")
	}

	var header proto.PackHeader
	if err := json.Unmarshal(decompressed[headerLengthSize:headerLengthSize+headerLen], &header); err != nil {
		return nil, fmt.Errorf("parsing header: %w", err)
	}

	objectData := decompressed[headerLengthSize+headerLen:]

	out := make(map[cas.Fingerprint]*asset.Asset, len(header.Objects))
	for _, obj := range header.Objects {
		sum, err := cas.Parse(obj.Checksum)
		if err != nil {
			return nil, fmt.Errorf("pack entry %q: %w", obj.Checksum, err)
		}
		if obj.Offset < 0 || obj.Length < 0 || obj.Offset+obj.Length > int64(len(objectData)) {
			return nil, fmt.Errorf("object %s extends beyond data", sum.Short())
		}

		a := &asset.Asset{
			Sum:  sum,
			Kind: graph.NodeKind(obj.Kind),
			Data: objectData[obj.Offset : obj.Offset+obj.Length],
		}
		if err := a.Verify(); err != nil {
			return nil, fmt.Errorf("pack object at offset %d: %w", obj.Offset, err)
		}
		out[sum] = a
	}

	return out, nil
}
