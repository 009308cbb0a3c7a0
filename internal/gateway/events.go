package gateway

// Canonical socket event names. Client → server events are handled by the
// dispatcher registered on the hub; server → client events are emitted by
// the domain services through the Notifier seam.
const (
	// Driver → server.
	EventDriverOnline  = "driver:online"
	EventDriverOffline = "driver:offline"
	EventDriverLocate  = "driver:location"
	EventTripAccept    = "trip:accept"
	EventTripDecline   = "trip:decline"
	EventDriverEnRoute = "driver:en_route"
	EventDriverArrive  = "driver:arrived"
	EventTripStart     = "trip:start"
	EventTripComplete  = "trip:complete"
	EventTripNoShowRpt = "trip:report_no_show"
	EventDriverPing    = "driver:heartbeat"

	// Passenger → server.
	EventTripRequest = "trip:request"

	// Either direction.
	EventTripCancel   = "trip:cancel"
	EventChatSend     = "chat:send"
	EventChatTyping   = "chat:typing"
	EventChatMarkRead = "chat:mark_read"

	// Server → passenger.
	EventTripStateSync      = "trip:state_sync"
	EventTripDriverAssigned = "trip:driver_assigned"
	EventTripDriverArrived  = "trip:driver_arrived"
	EventDriverLocationPush = "driver:location_update"
	EventTripStarted        = "trip:started"
	EventTripCompleted      = "trip:completed"
	EventTripCanceled       = "trip:canceled"
	EventTripNoShow         = "trip:no_show"
	EventTripNoDrivers      = "trip:no_drivers"

	// Server → driver.
	EventTripNewRequest     = "trip:new_request"
	EventTripMatched        = "trip:matched"
	EventTripRequestExpired = "trip:request_expired"

	// Chat fan-out.
	EventChatNewMessage   = "chat:new_message"
	EventChatMessagesRead = "chat:messages_read"

	// Connection lifecycle.
	EventError     = "error"
	EventConnected = "connected"
)
