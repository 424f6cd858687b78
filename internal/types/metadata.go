package types

// Metadata is a free-form string map carried on domain entities
type Metadata map[string]string

// Merge overlays other on top of m and returns the result without mutating either
func (m Metadata) Merge(other Metadata) Metadata {
	merged := make(Metadata, len(m)+len(other))
	for k, v := range m {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}
