package bridge

import (
	"context"
	"sync"

	"go.viam.com/texturebridge/logging"
	"go.viam.com/texturebridge/mainthread"
)

var (
	globalMu     sync.RWMutex
	globalBridge *Bridge
)

// Init installs b as the process wide bridge used by the package level functions, makes its
// dispatcher the default one and its logger the global logger. Init(nil) uninstalls it.
func Init(b *Bridge) {
	globalMu.Lock()
	globalBridge = b
	globalMu.Unlock()
	if b == nil {
		mainthread.SetDefault(nil)
		return
	}
	mainthread.SetDefault(b.dispatcher)
	logging.ReplaceGlobal(b.logger)
	b.logger.Info("texture bridge initialized")
}

// current returns the installed bridge, or ErrDispatchUnavailable if there is none or its main
// loop is not running.
func current() (*Bridge, error) {
	globalMu.RLock()
	b := globalBridge
	globalMu.RUnlock()
	if b == nil || !b.dispatcher.Running() {
		return nil, mainthread.ErrDispatchUnavailable
	}
	return b, nil
}

// CreateStreamingTexture creates a streaming texture for engineHandle on the installed bridge.
func CreateStreamingTexture(engineHandle int64) (int64, error) {
	b, err := current()
	if err != nil {
		return 0, err
	}
	return b.CreateStreamingTexture(context.Background(), engineHandle)
}

// CreateNativeContextTexture creates a native context texture for engineHandle on the installed
// bridge.
func CreateNativeContextTexture(engineHandle int64) (int64, error) {
	b, err := current()
	if err != nil {
		return 0, err
	}
	return b.CreateNativeContextTexture(context.Background(), engineHandle)
}

// RemoveTexture removes a streaming texture from the installed bridge.
func RemoveTexture(id int64) error {
	b, err := current()
	if err != nil {
		return err
	}
	return b.RemoveTexture(context.Background(), id)
}

// Shutdown closes and uninstalls the installed bridge. It does nothing if none is installed.
func Shutdown(ctx context.Context) error {
	globalMu.Lock()
	b := globalBridge
	globalBridge = nil
	globalMu.Unlock()
	if b == nil {
		return nil
	}
	mainthread.SetDefault(nil)
	return b.Close(ctx)
}
