package rpc

import (
	"encoding/json"
	"sync"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype of the JSON codec.
const CodecName = "json"

var registerCodecOnce sync.Once

type jsonCodec struct{}

func (jsonCodec) Name() string { return CodecName }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// EnsureJSONCodec registers the JSON codec used by the data service. Both
// the server and the client call it.
func EnsureJSONCodec() {
	registerCodecOnce.Do(func() {
		encoding.RegisterCodec(jsonCodec{})
	})
}
