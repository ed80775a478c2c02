package connector

import (
	"encoding/base64"
	"encoding/json"

	"github.com/pkg/errors"
)

// binMarker tags a base64-wrapped []byte leaf so decode can tell it apart
// from a text string. Mirrors the Python original's dict_to_b64/b64_to_dict
// (neon_mq_connector/utils/rabbit_utils.py), which base64-wraps the whole
// JSON document so payloads travel as ASCII-clean bytes through the broker.
const binMarker = "$bin"

// Encode serializes a Record into ASCII-clean wire bytes: []byte leaves are
// tagged and base64-wrapped individually so the byte-string/text-string
// distinction survives, then the whole JSON document is base64-wrapped
// again so the result is safe to carry as an AMQP message body regardless
// of intermediate storage.
func Encode(rec Record) ([]byte, error) {
	tagged := tagBytes(rec)
	raw, err := json.Marshal(tagged)
	if err != nil {
		return nil, errors.Wrap(err, "encode: marshal")
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(out, raw)
	return out, nil
}

// Decode reverses Encode. It returns an error if buf isn't valid
// base64-wrapped JSON, or if the decoded top level isn't a JSON object.
func Decode(buf []byte) (Record, error) {
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(buf)))
	n, err := base64.StdEncoding.Decode(raw, buf)
	if err != nil {
		return nil, errors.Wrap(err, "decode: base64")
	}
	raw = raw[:n]

	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, errors.Wrap(err, "decode: unmarshal")
	}
	return untagBytes(generic).(Record), nil
}

// tagBytes recursively walks v, replacing every []byte with
// {"$bin": "<base64>"} so it round-trips through JSON distinctly from a
// plain string.
func tagBytes(v any) any {
	switch t := v.(type) {
	case Record:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = tagBytes(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = tagBytes(val)
		}
		return out
	case []byte:
		return map[string]any{binMarker: base64.StdEncoding.EncodeToString(t)}
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = tagBytes(val)
		}
		return out
	default:
		return v
	}
}

// untagBytes reverses tagBytes, producing plain Go values: Record for
// objects, []byte for $bin-tagged leaves, []any for arrays, and JSON
// scalars unchanged (numbers decode as float64, per encoding/json).
func untagBytes(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 1 {
			if encoded, ok := t[binMarker]; ok {
				if s, ok := encoded.(string); ok {
					if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
						return raw
					}
				}
			}
		}
		out := make(Record, len(t))
		for k, val := range t {
			out[k] = untagBytes(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = untagBytes(val)
		}
		return out
	default:
		return v
	}
}
