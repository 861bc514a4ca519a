package event

// Handler reacts to telemetry events. Every handler sees every event
// and ignores the types it does not care about.
type Handler interface {
	Handle(event Event)
}
