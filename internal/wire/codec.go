package wire

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v5"
)

// Encoding is the frame format negotiated with the feed at connect time.
type Encoding string

const (
	EncodingJSON    Encoding = "json"
	EncodingMsgpack Encoding = "msgpack"
)

// ParseEncoding resolves a configured encoding name.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(strings.ToLower(strings.TrimSpace(s))) {
	case "", EncodingJSON:
		return EncodingJSON, nil
	case EncodingMsgpack, "messagepack":
		return EncodingMsgpack, nil
	default:
		return "", fmt.Errorf("unsupported encoding '%s'", s)
	}
}

// MessageKind classifies a parsed transport payload.
type MessageKind uint8

const (
	MessageTrade MessageKind = iota + 1
	MessagePing
	MessagePong
)

// Message is a parsed transport payload. Frame is only set for MessageTrade.
type Message struct {
	Kind  MessageKind
	Frame Frame
}

// DecodeError reports a payload that could not be parsed into a frame.
type DecodeError struct {
	Encoding Encoding
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s frame: %v", e.Encoding, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

var errUnexpectedShape = errors.New("payload is neither an object nor an array")

// Parse turns raw transport bytes into a Message. Binary payloads use the
// configured encoding; text payloads are always JSON or a bare PING/PONG.
func Parse(data []byte, binary bool, enc Encoding) (Message, error) {
	if binary && enc == EncodingMsgpack {
		return parseMsgpack(data)
	}
	return parseJSON(data)
}

func parseJSON(data []byte) (Message, error) {
	trimmed := bytes.TrimSpace(data)
	switch strings.ToUpper(string(trimmed)) {
	case "PING":
		return Message{Kind: MessagePing}, nil
	case "PONG":
		return Message{Kind: MessagePong}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Message{}, &DecodeError{Encoding: EncodingJSON, Err: err}
	}
	msg, err := classify(v)
	if err != nil {
		return Message{}, &DecodeError{Encoding: EncodingJSON, Err: err}
	}
	return msg, nil
}

func parseMsgpack(data []byte) (Message, error) {
	var v any
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return Message{}, &DecodeError{Encoding: EncodingMsgpack, Err: err}
	}
	msg, err := classify(normalizeKeys(v))
	if err != nil {
		return Message{}, &DecodeError{Encoding: EncodingMsgpack, Err: err}
	}
	return msg, nil
}

func classify(v any) (Message, error) {
	switch val := v.(type) {
	case []any:
		return Message{Kind: MessageTrade, Frame: Positional(val)}, nil
	case map[string]any:
		if t, ok := val["type"].(string); ok {
			switch t {
			case "PING":
				return Message{Kind: MessagePing}, nil
			case "PONG":
				return Message{Kind: MessagePong}, nil
			case "trade":
				// {"type":"trade","data":{...}} envelope
				if data, ok := val["data"]; ok {
					return classify(data)
				}
			}
		}
		return Message{Kind: MessageTrade, Frame: Named(val)}, nil
	default:
		return Message{}, errUnexpectedShape
	}
}

// normalizeKeys converts msgpack maps with interface keys into string-keyed maps.
func normalizeKeys(v any) any {
	switch val := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalizeKeys(item)
		}
		return out
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeKeys(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = normalizeKeys(item)
		}
		return val
	default:
		return v
	}
}

// Marshal encodes a frame for the wire. Named frames become objects or maps,
// positional frames become arrays.
func Marshal(f Frame, enc Encoding) ([]byte, error) {
	var v any
	switch f.kind {
	case KindNamed:
		v = f.named
	case KindPositional:
		v = f.positional
	default:
		return nil, errUnexpectedShape
	}
	if enc == EncodingMsgpack {
		return msgpack.Marshal(v)
	}
	return json.Marshal(v)
}

// ControlFrame returns the JSON control message of the given type, e.g. PING.
func ControlFrame(kind MessageKind) []byte {
	switch kind {
	case MessagePing:
		return []byte(`{"type":"PING"}`)
	case MessagePong:
		return []byte(`{"type":"PONG"}`)
	default:
		return nil
	}
}
