package fastjson

import (
	"github.com/pkg/errors"
	"github.com/valyala/fastjson"
)

const (
	jsonMethod  = "method"
	jsonID      = "id"
	jsonVersion = "jsonrpc"
)

var parserPool fastjson.ParserPool

// Envelope is the routing part of a JSON-RPC request. For a batch it
// describes the first call and Batch holds the number of calls.
type Envelope struct {
	Version string
	Method  string
	// ID is the raw JSON of the id member, e.g. `1` or `"abc"`.
	ID    string
	Batch int
}

// InspectRPC extracts the envelope without decoding params. Relayed payloads
// are forwarded untouched, so this is only used for logs and receipts.
func InspectRPC(payload []byte) (Envelope, error) {
	parser := parserPool.Get()
	defer parserPool.Put(parser)

	v, err := parser.ParseBytes(payload)
	if err != nil {
		return Envelope{}, errors.Wrap(err, "parsing json-rpc payload")
	}

	switch v.Type() {
	case fastjson.TypeObject:
		env := envelopeOf(v)
		env.Batch = 1
		return env, nil
	case fastjson.TypeArray:
		calls := v.GetArray()
		if len(calls) == 0 {
			return Envelope{}, errors.New("empty json-rpc batch")
		}
		env := envelopeOf(calls[0])
		env.Batch = len(calls)
		return env, nil
	}
	return Envelope{}, errors.Errorf("json-rpc payload is a %s", v.Type())
}

func envelopeOf(v *fastjson.Value) Envelope {
	env := Envelope{
		Version: string(v.GetStringBytes(jsonVersion)),
		Method:  string(v.GetStringBytes(jsonMethod)),
	}
	if id := v.Get(jsonID); id != nil {
		env.ID = id.String()
	}
	return env
}
