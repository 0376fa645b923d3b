package ipc

// Dispatch adapters: a small closed set of call shapes used by routing
// glue to invoke a handler method on a target without per-message-type
// boilerplate. The shape is selected at the call site by the handler's
// signature; each adapter invokes the handler exactly once and reports
// success.

// Dispatch invokes a no-argument handler on obj.
func Dispatch[T any](_ *Message, obj T, fn func(T)) bool {
	fn(obj)
	return true
}

// DispatchWithMessage invokes a handler that receives the decoded message.
func DispatchWithMessage[T any](m *Message, obj T, fn func(T, *Message)) bool {
	fn(obj, m)
	return true
}
