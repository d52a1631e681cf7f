package acebase

// Notifier receives old/new value pairs after a successful write, for a
// collaborator (e.g. a subscription layer) to diff and dispatch change
// events. Minimal by design: the storage core only hands off data, it never
// interprets what a change "means" to any listener.
type Notifier interface {
	Notify(path string, oldValue, newValue any)
}

// NotifierFunc adapts a plain function to the Notifier interface.
type NotifierFunc func(path string, oldValue, newValue any)

func (f NotifierFunc) Notify(path string, oldValue, newValue any) { f(path, oldValue, newValue) }
