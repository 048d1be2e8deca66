package model

import (
	"bytes"
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Body is message text. Payloads that carry a structured value instead of a
// string are kept as their compact JSON text so a body is always printable.
type Body string

func (b *Body) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*b = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*b = Body(s)
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return err
	}
	*b = Body(buf.String())
	return nil
}

func (b *Body) DecodeMsgpack(dec *msgpack.Decoder) error {
	v, err := dec.DecodeInterface()
	if err != nil {
		return err
	}
	switch v := v.(type) {
	case nil:
		*b = ""
	case string:
		*b = Body(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		*b = Body(data)
	}
	return nil
}

func (b Body) String() string { return string(b) }
