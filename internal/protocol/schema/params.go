package schema

// Params is a validated params or result object with typed getters.
// Getters return zero values for absent or mistyped keys; validation has
// already rejected mistyped input by the time handlers see it.
type Params map[string]any

func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

func (p Params) String(key string) string {
	s, _ := p[key].(string)
	return s
}

func (p Params) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

func (p Params) Int(key string) (int, bool) {
	f, ok := toFloat(p[key])
	return int(f), ok
}

func (p Params) Float(key string) (float64, bool) {
	return toFloat(p[key])
}

func (p Params) Bytes(key string) []byte {
	b, _ := p[key].([]byte)
	return b
}

func (p Params) Channel(key string) Channel {
	ch, _ := p[key].(Channel)
	return ch
}

func (p Params) Map(key string) Params {
	m, _ := asMap(p[key])
	return Params(m)
}

func (p Params) Strings(key string) []string {
	items, ok := asSlice(p[key])
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
