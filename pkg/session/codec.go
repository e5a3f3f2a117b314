// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/LeeDigitalWorks/zapload/pkg/compression"
	"github.com/LeeDigitalWorks/zapload/pkg/utils"
)

// Stored records are wrapped in a small envelope so a store can detect
// torn or bit-rotted writes before handing the bytes to a decoder:
//
//	[1 byte algorithm tag][8 bytes CRC64-NVMe, big-endian][payload]
//
// The checksum covers the payload as written (compressed or not), so
// verification never has to decompress corrupt data.
const recordHeaderLen = 9

// recordAlgorithm is what new records are written with. Decoding accepts
// every tag below, so the choice can change without a migration.
const recordAlgorithm = compression.S2

const (
	recordTagNone = 0x00
	recordTagLZ4  = 0x01
	recordTagZSTD = 0x02
	recordTagS2   = 0x03
)

var (
	errRecordTooShort = errors.New("session record too short")
	errRecordChecksum = errors.New("session record checksum mismatch")
)

func recordTag(algo compression.Algorithm) (byte, error) {
	switch algo {
	case compression.None:
		return recordTagNone, nil
	case compression.LZ4:
		return recordTagLZ4, nil
	case compression.ZSTD:
		return recordTagZSTD, nil
	case compression.S2:
		return recordTagS2, nil
	}
	return 0, fmt.Errorf("no record tag for algorithm %q", algo)
}

func recordAlgo(tag byte) (compression.Algorithm, error) {
	switch tag {
	case recordTagNone:
		return compression.None, nil
	case recordTagLZ4:
		return compression.LZ4, nil
	case recordTagZSTD:
		return compression.ZSTD, nil
	case recordTagS2:
		return compression.S2, nil
	}
	return compression.None, fmt.Errorf("unknown session record tag 0x%02x", tag)
}

func recordSum(payload []byte) uint64 {
	h := utils.Crc64nvmePoolGetHasher()
	defer utils.Crc64nvmePoolPutHasher(h)
	h.Write(payload)
	return h.Sum64()
}

// encodeRecord compresses plain when that pays off and wraps the result in
// the checksummed envelope. Small records stay raw under the None tag.
func encodeRecord(algo compression.Algorithm, plain []byte) ([]byte, error) {
	payload, used, err := compression.CompressIfBeneficial(algo, plain)
	if err != nil {
		return nil, err
	}
	tag, err := recordTag(used)
	if err != nil {
		return nil, err
	}

	out := make([]byte, recordHeaderLen+len(payload))
	out[0] = tag
	binary.BigEndian.PutUint64(out[1:recordHeaderLen], recordSum(payload))
	copy(out[recordHeaderLen:], payload)
	return out, nil
}

// decodeRecord verifies the envelope and returns the original record bytes.
func decodeRecord(data []byte) ([]byte, error) {
	if len(data) < recordHeaderLen {
		return nil, errRecordTooShort
	}
	algo, err := recordAlgo(data[0])
	if err != nil {
		return nil, err
	}

	payload := data[recordHeaderLen:]
	if binary.BigEndian.Uint64(data[1:recordHeaderLen]) != recordSum(payload) {
		return nil, errRecordChecksum
	}
	return compression.Decompress(algo, payload)
}
