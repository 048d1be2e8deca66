package push

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/matheus3301/inbox/internal/model"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes push events into WebSocket frames. The codec is negotiated
// through the WebSocket subprotocol.
type Codec interface {
	Name() string
	Subprotocol() string
	Encode(evt model.Event) ([]byte, error)
	Decode(data []byte) (model.Event, error)
}

var (
	JSON    Codec = jsonCodec{}
	MsgPack Codec = msgpackCodec{}
)

// Subprotocols lists every supported subprotocol, preferred first.
var Subprotocols = []string{JSON.Subprotocol(), MsgPack.Subprotocol()}

// CodecByName resolves a configured codec name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", JSON.Name():
		return JSON, nil
	case MsgPack.Name():
		return MsgPack, nil
	}
	return nil, fmt.Errorf("push: unknown codec %q", name)
}

// CodecForSubprotocol returns the codec of a negotiated subprotocol,
// JSON when nothing was negotiated.
func CodecForSubprotocol(p string) Codec {
	if p == MsgPack.Subprotocol() {
		return MsgPack
	}
	return JSON
}

func payload(evt model.Event) (any, error) {
	if err := evt.Validate(); err != nil {
		return nil, err
	}
	if evt.Conversation != nil {
		return evt.Conversation, nil
	}
	return evt.Message, nil
}

type jsonCodec struct{}

type jsonFrame struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func (jsonCodec) Name() string        { return "json" }
func (jsonCodec) Subprotocol() string { return "inbox.v1.json" }

func (jsonCodec) Encode(evt model.Event) ([]byte, error) {
	data, err := payload(evt)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Kind model.Kind `json:"kind"`
		Data any        `json:"data"`
	}{evt.Kind, data})
}

func (jsonCodec) Decode(data []byte) (model.Event, error) {
	var f jsonFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return model.Event{}, fmt.Errorf("decode frame: %w", err)
	}
	kind, err := model.ParseKind(f.Kind)
	if err != nil {
		return model.Event{}, err
	}
	evt := model.Event{Kind: kind}
	switch kind {
	case model.KindConversation:
		evt.Conversation = new(model.Conversation)
		err = json.Unmarshal(f.Data, evt.Conversation)
	case model.KindMessage:
		evt.Message = new(model.Message)
		err = json.Unmarshal(f.Data, evt.Message)
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return evt, evt.Validate()
}

type msgpackCodec struct{}

type msgpackFrame struct {
	Kind string             `msgpack:"kind"`
	Data msgpack.RawMessage `msgpack:"data"`
}

func (msgpackCodec) Name() string        { return "msgpack" }
func (msgpackCodec) Subprotocol() string { return "inbox.v1.msgpack" }

// Entities are encoded with their json field names so both codecs share
// one schema.
func (msgpackCodec) Encode(evt model.Event) ([]byte, error) {
	data, err := payload(evt)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	err = enc.Encode(map[string]any{"kind": string(evt.Kind), "data": data})
	return buf.Bytes(), err
}

func (msgpackCodec) Decode(data []byte) (model.Event, error) {
	var f msgpackFrame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return model.Event{}, fmt.Errorf("decode frame: %w", err)
	}
	kind, err := model.ParseKind(f.Kind)
	if err != nil {
		return model.Event{}, err
	}
	dec := msgpack.NewDecoder(bytes.NewReader(f.Data))
	dec.SetCustomStructTag("json")
	evt := model.Event{Kind: kind}
	switch kind {
	case model.KindConversation:
		evt.Conversation = new(model.Conversation)
		err = dec.Decode(evt.Conversation)
	case model.KindMessage:
		evt.Message = new(model.Message)
		err = dec.Decode(evt.Message)
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return evt, evt.Validate()
}
