package utils

func Ptr[T any](v T) *T {
	return &v
}

// Assign copies *src into dst when src is set.
func Assign[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
