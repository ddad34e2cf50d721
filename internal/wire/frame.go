package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrFrameDecode reports malformed wire data. It is never fatal to the
// connection: callers log it or answer with an error status frame.
var ErrFrameDecode = errors.New("frame decode error")

const headerLenSize = 4

// ScreenshotHeader is the JSON metadata block at the front of a binary frame.
type ScreenshotHeader struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
}

// EncodeScreenshot builds a binary frame: a big-endian uint32 header length,
// the JSON header, then the raw image bytes.
func EncodeScreenshot(timestampMs int64, image []byte) []byte {
	header, _ := json.Marshal(ScreenshotHeader{
		Type:      TypeScreenshot,
		Timestamp: timestampMs,
	})

	frame := make([]byte, headerLenSize+len(header)+len(image))
	binary.BigEndian.PutUint32(frame[:headerLenSize], uint32(len(header)))
	copy(frame[headerLenSize:], header)
	copy(frame[headerLenSize+len(header):], image)
	return frame
}

// DecodeBinary splits a binary frame into its header and payload. The
// declared header length must fit within the frame or decoding fails with
// ErrFrameDecode.
func DecodeBinary(frame []byte) (*ScreenshotHeader, []byte, error) {
	if len(frame) < headerLenSize {
		return nil, nil, fmt.Errorf("%w: frame too short (%d bytes)", ErrFrameDecode, len(frame))
	}

	headerLen := binary.BigEndian.Uint32(frame[:headerLenSize])
	if int(headerLen) > len(frame)-headerLenSize {
		return nil, nil, fmt.Errorf("%w: declared header length %d exceeds frame size %d", ErrFrameDecode, headerLen, len(frame))
	}

	var header ScreenshotHeader
	if err := json.Unmarshal(frame[headerLenSize:headerLenSize+int(headerLen)], &header); err != nil {
		return nil, nil, fmt.Errorf("%w: invalid header JSON: %v", ErrFrameDecode, err)
	}

	return &header, frame[headerLenSize+int(headerLen):], nil
}
