package event

// Default names of the JVM-side runtime the injected code calls into.
const (
	DefaultContextClass = "modhook/runtime/EventContext"
	DefaultBridgeOwner  = "modhook/runtime/Bridge"
	BridgeMethod        = "dispatch"
)

// BridgeCallback is the callback that hands a context to the Go-side Bus.
// The JVM bridge method forwards its argument to Bus.Dispatch.
func BridgeCallback(owner, contextClass string) CallbackRef {
	if owner == "" {
		owner = DefaultBridgeOwner
	}
	if contextClass == "" {
		contextClass = DefaultContextClass
	}
	return CallbackRef{Owner: owner, Name: BridgeMethod, Desc: "(L" + contextClass + ";)V"}
}

// IsBridge reports whether cb is a bridge callback.
func (cb CallbackRef) IsBridge() bool {
	return cb.Name == BridgeMethod && (cb.Owner == DefaultBridgeOwner || cb.Desc == "(L"+DefaultContextClass+";)V")
}
