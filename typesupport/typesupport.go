// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package typesupport turns typed domain values into the raw bytes the
// queuing subsystem moves around, and back. The subsystem itself never
// interprets payload contents.
package typesupport

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/proto"
)

// Serialization errors.
var (
	ErrNotProtoMessage = errors.New("value is not a proto.Message")
	ErrShortPayload    = errors.New("payload too short")
	ErrUnknownEncoding = errors.New("unknown payload encoding")
)

// TypeSupport serializes outgoing values and deserializes inbound payloads.
type TypeSupport interface {
	Serialize(v any) ([]byte, error)
	Deserialize(data []byte, v any) error
}

// Payload encoding markers, prefixed to every serialized payload.
const (
	encodingRaw  byte = 0x00
	encodingZstd byte = 0x01
)

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create zstd encoder: %v", err))
	}
	zstdDecoder, err = zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
	}
}

// ProtoTypeSupport serializes protobuf messages, compressing payloads above
// CompressThreshold with zstd when that actually shrinks them.
type ProtoTypeSupport struct {
	// CompressThreshold is the serialized size above which compression is
	// attempted; zero disables compression.
	CompressThreshold int
}

// Serialize marshals v, which must be a proto.Message.
func (ts *ProtoTypeSupport) Serialize(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("serialize %T: %w", v, ErrNotProtoMessage)
	}

	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("serialize %T: %w", v, err)
	}

	if ts.CompressThreshold > 0 && len(data) > ts.CompressThreshold {
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) < len(data) {
			out := make([]byte, 0, len(compressed)+1)
			out = append(out, encodingZstd)
			return append(out, compressed...), nil
		}
	}

	out := make([]byte, 0, len(data)+1)
	out = append(out, encodingRaw)
	return append(out, data...), nil
}

// Deserialize unmarshals data into v, which must be a proto.Message.
func (ts *ProtoTypeSupport) Deserialize(data []byte, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("deserialize into %T: %w", v, ErrNotProtoMessage)
	}
	if len(data) < 1 {
		return ErrShortPayload
	}

	body := data[1:]
	switch data[0] {
	case encodingRaw:
	case encodingZstd:
		var err error
		body, err = zstdDecoder.DecodeAll(body, nil)
		if err != nil {
			return fmt.Errorf("decompress payload: %w", err)
		}
	default:
		return fmt.Errorf("encoding marker 0x%02x: %w", data[0], ErrUnknownEncoding)
	}

	if err := proto.Unmarshal(body, msg); err != nil {
		return fmt.Errorf("deserialize into %T: %w", v, err)
	}
	return nil
}
