package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is the content-subtype the client selects on every call
// via grpc.CallContentSubtype; the server picks the codec registered in
// init below by that subtype, bypassing protobuf wire marshaling entirely
// (DESIGN.md "protoc unavailable").
const jsonCodecName = "json"

// jsonCodec implements google.golang.org/grpc/encoding.Codec by
// marshaling request/response structs as JSON instead of protobuf.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
