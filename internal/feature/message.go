package feature

import (
	"encoding/json"
	"fmt"
)

// Well-known message keys.
const (
	KeyReqType = "req_type"
	KeyNfnType = "nfn_type"
	KeyChannel = "channel"
	KeyTarget  = "target"
	KeyID      = "id"
	KeyUserID  = "userid"
	KeyResult  = "result"
	KeyError   = "error"
	KeyValue   = "value"
)

// ErrorChannel is the reserved channel (and notification type) for
// problems that cannot be tied to a request.
const ErrorChannel = "error"

// Message is a decoded inbound request or an outbound notification.
type Message map[string]any

// String returns m[key] if it is a string.
func (m Message) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Clone returns a shallow copy.
func (m Message) Clone() Message {
	out := make(Message, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// JSON renders m for error texts; it never fails.
func (m Message) JSON() string {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprintf("%v", map[string]any(m))
	}
	return string(b)
}

// ErrorNotification builds the generic error sent on the error channel.
func ErrorNotification(value string) Message {
	return Message{KeyNfnType: ErrorChannel, KeyChannel: ErrorChannel, KeyValue: value}
}

// Result builds a notification of type nfnType with extra key/value pairs.
func Result(nfnType string, kv ...any) Message {
	m := Message{KeyNfnType: nfnType}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			m[k] = kv[i+1]
		}
	}
	return m
}

// RPCSuccess builds a successful RPC reply. Its type defaults to the
// request type when sent.
func RPCSuccess(result any) Message {
	return Message{KeyResult: result}
}

// RPCFailure builds a failed RPC reply.
func RPCFailure(text string) Message {
	return Message{KeyError: text}
}

func stringArg(args []any, i int, name string) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("%w: %s", ErrMissingArgument, name)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrBadArgument, name, args[i])
	}
	return s, nil
}

// boolArg treats null as false.
func boolArg(args []any, i int, name string) (bool, error) {
	if i >= len(args) || args[i] == nil {
		return false, nil
	}
	b, ok := args[i].(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s must be a boolean, got %T", ErrBadArgument, name, args[i])
	}
	return b, nil
}

func mapArg(args []any, i int, name string) (map[string]any, error) {
	if i >= len(args) {
		return nil, fmt.Errorf("%w: %s", ErrMissingArgument, name)
	}
	m, ok := asMap(args[i])
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an object, got %T", ErrBadArgument, name, args[i])
	}
	return m, nil
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Message:
		return m, true
	default:
		return nil, false
	}
}

// stringList accepts a JSON array of strings; null is an empty list.
func stringList(v any, name string) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s must contain strings, got %T", ErrBadArgument, name, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a list, got %T", ErrBadArgument, name, v)
	}
}
