package naming

import "strings"

const (
	// ConnectionSuffix marks the connection companion of a relationship field.
	ConnectionSuffix = "Connection"
	// AggregateSuffix marks the aggregate companion of a relationship field.
	AggregateSuffix = "Aggregate"
)

// IsReservedFieldName reports whether a declared field name would shadow a
// derived field or an introspection field.
func IsReservedFieldName(name string) bool {
	if strings.HasPrefix(name, "__") {
		return true
	}
	return strings.HasSuffix(name, ConnectionSuffix) || strings.HasSuffix(name, AggregateSuffix)
}
