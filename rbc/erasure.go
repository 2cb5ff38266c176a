package rbc

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// Encode splits payload into n erasure-coded fragments with reconstruction
// threshold k = n - 2f (spec §4.3: "erasure-coded into n fragments with
// reconstruction threshold k = n - 2f"). The payload's true length is
// prefixed so padding introduced by striping can be removed on decode.
func Encode(payload []byte, n, k int) ([][]byte, error) {
	if k <= 0 || n <= k {
		return nil, fmt.Errorf("rbc: invalid erasure parameters n=%d k=%d", n, k)
	}
	parity := n - k
	framed := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint64(framed[:8], uint64(len(payload)))
	copy(framed[8:], payload)

	enc, err := reedsolomon.New(k, parity)
	if err != nil {
		return nil, fmt.Errorf("rbc: new encoder: %w", err)
	}
	shards, err := enc.Split(framed)
	if err != nil {
		return nil, fmt.Errorf("rbc: split: %w", err)
	}
	if err := enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("rbc: encode: %w", err)
	}
	return shards, nil
}

// Decode reconstructs the original payload from at least k valid fragments
// out of n (spec §4.3 Deliver: "possession of >= k validated fragments").
// Missing fragments are represented as nil entries in fragments.
func Decode(fragments [][]byte, n, k int) ([]byte, error) {
	parity := n - k
	dec, err := reedsolomon.New(k, parity)
	if err != nil {
		return nil, fmt.Errorf("rbc: new decoder: %w", err)
	}
	shardSize := 0
	for _, f := range fragments {
		if f != nil {
			shardSize = len(f)
			break
		}
	}
	if shardSize == 0 {
		return nil, fmt.Errorf("rbc: no fragments available to decode")
	}
	shards := make([][]byte, n)
	copy(shards, fragments)
	if err := dec.Reconstruct(shards); err != nil {
		return nil, fmt.Errorf("rbc: reconstruct: %w", err)
	}

	var buf bytes.Buffer
	if err := dec.Join(&buf, shards, k*shardSize); err != nil {
		return nil, fmt.Errorf("rbc: join: %w", err)
	}
	framed := buf.Bytes()
	if len(framed) < 8 {
		return nil, fmt.Errorf("rbc: reconstructed payload too short")
	}
	length := binary.BigEndian.Uint64(framed[:8])
	if uint64(len(framed)-8) < length {
		return nil, fmt.Errorf("rbc: reconstructed payload shorter than framed length")
	}
	return framed[8 : 8+length], nil
}
