package outbox

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType (event per topic).
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Topics published by the booking service. Downstream notification dispatch
// consumes these; delivery failures there never affect the booking itself.
const (
	EventAppointmentBooked        = "booking.appointment.booked.v1"
	EventAppointmentCancelled     = "booking.appointment.cancelled.v1"
	EventAppointmentStatusChanged = "booking.appointment.status_changed.v1"
)
