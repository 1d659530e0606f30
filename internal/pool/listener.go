package pool

// Listener is the pool's per-borrow observation hook, an optional
// collaborator for callers that want to instrument borrow/return without
// modifying the pool itself. BeforeReturn is not called on force-close
// returns, since those sessions never go back into circulation.
type Listener interface {
	AfterBorrow(s Session)
	BeforeReturn(s Session)
}

type noopListener struct{}

func (noopListener) AfterBorrow(Session)  {}
func (noopListener) BeforeReturn(Session) {}
