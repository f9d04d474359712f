package sync

// Connectivity reports whether the process believes the remote endpoint is
// reachable. The drain loop consults Online before and during every batch and
// listens on Notify for transitions so a restored connection triggers a flush.
type Connectivity interface {
	Online() bool
	// Notify returns a channel receiving the new online state on every
	// transition. A nil channel is valid and means no notifications.
	Notify() <-chan bool
}

// AlwaysOnline is the default Connectivity for deployments without a real
// reachability signal.
type AlwaysOnline struct{}

func (AlwaysOnline) Online() bool { return true }

func (AlwaysOnline) Notify() <-chan bool { return nil }
