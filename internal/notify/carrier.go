package notify

// AttributeCarrier adapts message attributes to a propagation.TextMapCarrier
// so trace context travels with published events.
type AttributeCarrier map[string]string

// Get returns the attribute value for key.
func (c AttributeCarrier) Get(key string) string {
	return c[key]
}

// Set stores an attribute.
func (c AttributeCarrier) Set(key, value string) {
	c[key] = value
}

// Keys lists the attribute names.
func (c AttributeCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
