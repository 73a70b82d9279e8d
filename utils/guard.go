package utils

// Guard runs a cleanup function unless Success was called first. Typical use:
//
//	guard := NewGuard(func() { src.Close(ctx) })
//	defer guard.OnFail()
//	if err != nil { return err }
//	guard.Success()
type Guard struct {
	OnFail  func()
	success bool
}

// NewGuard returns a Guard that calls onFailCleanup from OnFail if Success was never called.
func NewGuard(onFailCleanup func()) *Guard {
	ret := &Guard{}
	ret.OnFail = func() {
		if !ret.success {
			onFailCleanup()
		}
	}
	return ret
}

// Success disarms the guard.
func (guard *Guard) Success() {
	guard.success = true
}
