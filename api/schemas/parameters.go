package schemas

// Parameter keys carried by intents. Handlers read them by name; the parser
// writes them in the order they appear in the step.
const (
	ParamURL       = "url"       // Navigate destination.
	ParamText      = "text"      // Text to type.
	ParamValue     = "value"     // Option to select.
	ParamKey       = "key"       // Key name for press, e.g. "Enter".
	ParamSeconds   = "seconds"   // Fixed wait duration.
	ParamCondition = "condition" // Wait condition: time, appear, disappear, load.
	ParamExpected  = "expected"  // Expected text, title or URL fragment.
	ParamMatch     = "match"     // "contains" (default) or "equals".
	ParamExact     = "exact"     // "true" disables case folding.
	ParamState     = "state"     // Expected element state for assert_state.
	ParamName      = "name"      // Variable name for capture, baseline name for visuals.
	ParamDirection = "direction" // Scroll direction: up, down, top, bottom.
)

// Match modes for text assertions.
const (
	MatchContains = "contains"
	MatchEquals   = "equals"
)

// Param is one key/value pair of an intent. Order is preserved.
type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Parameters is an ordered key/value list.
type Parameters []Param

// Get returns the first value stored under key.
func (p Parameters) Get(key string) (string, bool) {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Value returns the value for key or the empty string.
func (p Parameters) Value(key string) string {
	v, _ := p.Get(key)
	return v
}

// With returns a copy of p with key set to value. An existing entry keeps its position.
func (p Parameters) With(key, value string) Parameters {
	out := make(Parameters, 0, len(p)+1)
	replaced := false
	for _, kv := range p {
		if kv.Key == key && !replaced {
			out = append(out, Param{Key: key, Value: value})
			replaced = true
			continue
		}
		out = append(out, kv)
	}
	if !replaced {
		out = append(out, Param{Key: key, Value: value})
	}
	return out
}

// Map flattens the list for logging and serialization.
func (p Parameters) Map() map[string]string {
	m := make(map[string]string, len(p))
	for _, kv := range p {
		if _, exists := m[kv.Key]; !exists {
			m[kv.Key] = kv.Value
		}
	}
	return m
}
