package stego

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// FrameVersion is the current last-row frame format version.
const FrameVersion = 1

// ErrMalformedFrame reports a frame body that is not valid frame JSON.
var ErrMalformedFrame = errors.New("stego: malformed signature frame")

// Frame is the JSON structure carried in the last-row region. Sig is a
// Base64 compact secp256k1 signature, PK a Base64 compressed public
// key.
type Frame struct {
	Sig string `json:"sig"`
	PK  string `json:"pk"`
	TS  string `json:"ts"`
	V   int    `json:"v"`
}

// frameSchema constrains the frame shape on the read path. Unknown
// fields are tolerated; missing required fields are hard failures.
const frameSchema = `{
  "type": "object",
  "required": ["sig", "pk", "v"],
  "properties": {
    "sig": {"type": "string", "minLength": 1},
    "pk":  {"type": "string", "minLength": 1},
    "ts":  {"type": "string"},
    "v":   {"type": "integer", "minimum": 1}
  }
}`

var compiledFrameSchema = jsonschema.MustCompileString("frame.json", frameSchema)

// NewFrame builds a version-1 frame stamped with the given time.
func NewFrame(sigB64, pkB64 string, now time.Time) Frame {
	return Frame{
		Sig: sigB64,
		PK:  pkB64,
		TS:  now.UTC().Format(time.RFC3339),
		V:   FrameVersion,
	}
}

// Marshal encodes the frame as UTF-8 JSON for embedding.
func (f Frame) Marshal() ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("stego: marshal frame: %w", err)
	}
	return b, nil
}

// ParseFrame decodes and validates frame bytes read from the last row.
func ParseFrame(data []byte) (Frame, error) {
	var raw interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if err := compiledFrameSchema.Validate(raw); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return f, nil
}
