package presence

// Notifier delivers socket events to connected users. Implemented by the
// gateway hub; a no-op implementation is fine for tests.
type Notifier interface {
	EmitToUser(userID, event string, payload interface{})
}
