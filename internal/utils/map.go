package utils

// return value at key or default
func PropOr[T any](xc map[string]any, key string, defval T) T {
	value, ok := xc[key].(T)
	if !ok {
		return defval
	}
	return value
}
