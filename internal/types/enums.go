package types

// Classification is the bucket a threshold rule assigns to a light percentage.
// The wire values match the persisted Spanish enum of the production schema.
type Classification string

const (
	ClassCriticalRed    Classification = "CriticoRojo"
	ClassCriticalYellow Classification = "CriticoAmarillo"
	ClassNormal         Classification = "Normal"
)

// Valid reports whether c is one of the known classifications.
func (c Classification) Valid() bool {
	switch c {
	case ClassCriticalRed, ClassCriticalYellow, ClassNormal:
		return true
	}
	return false
}

// Notifiable reports whether an evaluation matching this classification
// should produce an alert. Normal evaluations are recorded upstream but do
// not enter the alert pipeline.
func (c Classification) Notifiable() bool {
	return c == ClassCriticalRed || c == ClassCriticalYellow
}

// Severity is the alert urgency derived from the classification at alert
// creation time (denormalized so later rule edits do not rewrite history).
type Severity string

const (
	SeverityCritical Severity = "Critica"
	SeverityWarning  Severity = "Advertencia"
	SeverityInfo     Severity = "Info"
)

// SeverityFor maps a classification to its severity.
func SeverityFor(c Classification) Severity {
	switch c {
	case ClassCriticalRed:
		return SeverityCritical
	case ClassCriticalYellow:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// AlertState is the lifecycle state of an Alert.
type AlertState string

const (
	AlertPending  AlertState = "Pendiente"
	AlertSent     AlertState = "Enviada"
	AlertResolved AlertState = "Resuelta"
	AlertIgnored  AlertState = "Ignorada"
)

// Valid reports whether s is one of the known alert states.
func (s AlertState) Valid() bool {
	switch s {
	case AlertPending, AlertSent, AlertResolved, AlertIgnored:
		return true
	}
	return false
}

// CanTransition reports whether moving an alert from s to next is a legal
// transition. Resuelta and Ignorada are terminal; the sender moves Pendiente
// to Enviada; operators close out from Pendiente or Enviada.
func (s AlertState) CanTransition(next AlertState) bool {
	switch s {
	case AlertPending:
		return next == AlertSent || next == AlertResolved || next == AlertIgnored
	case AlertSent:
		return next == AlertResolved || next == AlertIgnored
	default:
		return false
	}
}

// MessageState is the delivery state of an outbound Message. Only the sender
// process mutates messages after creation.
type MessageState string

const (
	MessagePending MessageState = "Pendiente"
	MessageSending MessageState = "Enviando"
	MessageSent    MessageState = "Enviado"
	MessageError   MessageState = "Error"
)

// Valid reports whether s is one of the known message states.
func (s MessageState) Valid() bool {
	switch s {
	case MessagePending, MessageSending, MessageSent, MessageError:
		return true
	}
	return false
}

// CanTransition reports whether moving a message from s to next is legal.
// Error -> Pendiente is the bounded retry requeue; Enviando -> Pendiente is
// the abandoned-claim recovery sweep.
func (s MessageState) CanTransition(next MessageState) bool {
	switch s {
	case MessagePending:
		return next == MessageSending
	case MessageSending:
		return next == MessageSent || next == MessageError || next == MessagePending
	case MessageError:
		return next == MessagePending
	default:
		return false
	}
}

// ChannelType identifies a message delivery channel. Email is the only
// channel currently wired; the column exists so SMS/Push can be added
// without a schema change.
type ChannelType string

const (
	ChannelEmail ChannelType = "Email"
)

// ConsolidationMode selects how the consolidator groups unmessaged alerts.
type ConsolidationMode string

const (
	// ModePerAlert creates one message per alert.
	ModePerAlert ConsolidationMode = "per_alert"
	// ModePerFarm creates one message per farm, bundling every eligible
	// alert for that farm. This is the default and the behavior the
	// consolidation UI documents.
	ModePerFarm ConsolidationMode = "per_farm"
)

// Valid reports whether m is a known consolidation mode.
func (m ConsolidationMode) Valid() bool {
	return m == ModePerAlert || m == ModePerFarm
}
