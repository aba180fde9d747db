//go:build whisperwrapper

package whisper

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// DefaultLibrary is the shared library the native runtime binds to. The
// wrapper exports the boundary surface around whisper.cpp and owns the
// centisecond-to-millisecond conversion plus the thread pinning
// (min(4, hardware concurrency)).
const DefaultLibrary = "libwhisper_wrapper.so"

func NativeAvailable() bool { return true }

var (
	loadOnce sync.Once
	loadErr  error

	wrapperInit         func(modelPath string) uintptr
	wrapperFree         func(ctx uintptr)
	wrapperTranscribe   func(ctx uintptr, samples []float32, n int32, language string, callback uintptr, userData uintptr) uintptr
	wrapperFreeString   func(str uintptr)
	wrapperSystemInfo   func() string
	wrapperIsMulti      func(ctx uintptr) int32
	wrapperLastError    func() string
	wrapperProgressFn   uintptr
)

// Progress callbacks arrive on the engine's compute thread. They are fanned
// out through a registry keyed by the user_data token, so only one C
// callback is ever created (purego callbacks are a finite resource).
var (
	progressMu   sync.Mutex
	progressSubs = make(map[uintptr]func(int))
	progressSeq  uintptr
)

func loadWrapper(library string) error {
	loadOnce.Do(func() {
		lib, err := purego.Dlopen(library, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			loadErr = fmt.Errorf("whisper: load %s: %w", library, err)
			return
		}
		purego.RegisterLibFunc(&wrapperInit, lib, "whisper_wrapper_init")
		purego.RegisterLibFunc(&wrapperFree, lib, "whisper_wrapper_free")
		purego.RegisterLibFunc(&wrapperTranscribe, lib, "whisper_wrapper_transcribe")
		purego.RegisterLibFunc(&wrapperFreeString, lib, "whisper_wrapper_free_string")
		purego.RegisterLibFunc(&wrapperSystemInfo, lib, "whisper_wrapper_get_system_info")
		purego.RegisterLibFunc(&wrapperIsMulti, lib, "whisper_wrapper_is_multilingual")
		purego.RegisterLibFunc(&wrapperLastError, lib, "whisper_wrapper_get_last_error")

		wrapperProgressFn = purego.NewCallback(func(percent int32, userData uintptr) uintptr {
			progressMu.Lock()
			fn := progressSubs[userData]
			progressMu.Unlock()
			if fn != nil {
				fn(int(percent))
			}
			return 0
		})
	})
	return loadErr
}

func subscribeProgress(fn func(int)) uintptr {
	progressMu.Lock()
	defer progressMu.Unlock()
	progressSeq++
	token := progressSeq
	progressSubs[token] = fn
	return token
}

func unsubscribeProgress(token uintptr) {
	progressMu.Lock()
	defer progressMu.Unlock()
	delete(progressSubs, token)
}

// NativeRuntime drives the whisper_wrapper shared library through purego.
type NativeRuntime struct{}

// NewNativeRuntime loads the wrapper library and resolves the boundary
// functions. library may be empty to use DefaultLibrary.
func NewNativeRuntime(library string) (Runtime, error) {
	if library == "" {
		library = DefaultLibrary
	}
	if err := loadWrapper(library); err != nil {
		return nil, err
	}
	return &NativeRuntime{}, nil
}

func (*NativeRuntime) Init(modelPath string) (Handle, error) {
	ctx := wrapperInit(modelPath)
	if ctx == 0 {
		return 0, &RuntimeError{Op: "init", Msg: wrapperLastError()}
	}
	return Handle(ctx), nil
}

func (*NativeRuntime) Free(h Handle) {
	if h == 0 {
		return
	}
	wrapperFree(uintptr(h))
}

func (*NativeRuntime) Transcribe(h Handle, samples []float32, language string, onProgress func(percent int)) ([]byte, error) {
	var callback, token uintptr
	if onProgress != nil {
		token = subscribeProgress(onProgress)
		defer unsubscribeProgress(token)
		callback = wrapperProgressFn
	}

	str := wrapperTranscribe(uintptr(h), samples, int32(len(samples)), language, callback, token)
	if str == 0 {
		return nil, &RuntimeError{Op: "transcribe", Msg: wrapperLastError()}
	}
	payload := copyCString(str)
	// The engine owns the returned string; exactly one matching free.
	wrapperFreeString(str)
	return payload, nil
}

func (*NativeRuntime) IsMultilingual(h Handle) bool {
	if h == 0 {
		return false
	}
	return wrapperIsMulti(uintptr(h)) != 0
}

func (*NativeRuntime) SystemInfo() string {
	return wrapperSystemInfo()
}

// copyCString copies a NUL-terminated C string into Go-owned memory.
func copyCString(p uintptr) []byte {
	if p == 0 {
		return nil
	}
	var n uintptr
	for *(*byte)(unsafe.Pointer(p + n)) != 0 {
		n++
	}
	out := make([]byte, n)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(p)), n))
	return out
}
