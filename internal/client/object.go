package client

import (
	"encoding/base64"
	"fmt"
	"sort"
)

// Object mirrors one remote object. Fields other than GUID, Type and
// Initializer change as envelopes arrive; read them through the Client.
type Object struct {
	GUID        string
	Type        string
	Initializer map[string]any

	parent   string
	children map[string]*Object
	disposed bool
	reason   string
}

func newObject(guid, typ string, init map[string]any, parent string) *Object {
	return &Object{
		GUID:        guid,
		Type:        typ,
		Initializer: init,
		parent:      parent,
		children:    make(map[string]*Object),
	}
}

func (o *Object) childGUIDs() []string {
	out := make([]string, 0, len(o.children))
	for guid := range o.children {
		out = append(out, guid)
	}
	sort.Strings(out)
	return out
}

// ChannelGUID extracts the guid from a {guid} reference.
func ChannelGUID(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	guid, _ := m["guid"].(string)
	return guid
}

// Bytes decodes a binary value: raw on in-process transports, base64
// text otherwise.
func Bytes(v any) ([]byte, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case string:
		return base64.StdEncoding.DecodeString(b)
	default:
		return nil, fmt.Errorf("client: expected binary, got %T", v)
	}
}
