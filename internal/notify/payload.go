package notify

// Kind classifies an alert. Flagged outranks low-trust; callers that see
// both conditions on one player send only the flagged alert.
type Kind int

const (
	// KindLowTrust announces a newcomer-tier player.
	KindLowTrust Kind = iota
	// KindFlagged announces a player carrying a misconduct flag.
	KindFlagged
)

func (k Kind) String() string {
	switch k {
	case KindLowTrust:
		return "low_trust"
	case KindFlagged:
		return "flagged"
	default:
		return "unknown"
	}
}

// Payload is the XSOverlay notification body, shared by both transports.
// MessageType 1 is a standard popup toast.
type Payload struct {
	MessageType int     `json:"messageType"`
	Title       string  `json:"title"`
	Content     string  `json:"content"`
	Timeout     float64 `json:"timeout"`
}

// DefaultTimeoutSeconds is how long a toast stays on screen.
const DefaultTimeoutSeconds = 4.0

// BuildPayload renders an alert into an overlay toast.
func BuildPayload(kind Kind, displayName string) Payload {
	p := Payload{
		MessageType: 1,
		Content:     displayName,
		Timeout:     DefaultTimeoutSeconds,
	}
	switch kind {
	case KindFlagged:
		p.Title = "Flagged player joined"
	default:
		p.Title = "New player joined"
	}
	return p
}
