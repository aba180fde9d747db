//go:build !whisperwrapper

package whisper

// NativeAvailable reports whether the native wrapper backend is compiled in.
func NativeAvailable() bool { return false }

// NewNativeRuntime returns an error when the native backend is not built.
func NewNativeRuntime(library string) (Runtime, error) {
	return nil, ErrRuntimeUnavailable
}
