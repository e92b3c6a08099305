package reconcile

import (
	"strings"

	"google.golang.org/api/calendar/v3"
)

const (
	// SourceIDProperty is the shared extended property holding the source event id.
	SourceIDProperty = "sourceId"
	// ManagedByProperty marks events written by this service.
	ManagedByProperty = "managedBy"
	ManagedByValue    = "calsync"

	// LegacyDisclosure is the description earlier deployments wrote on copies.
	LegacyDisclosure = "Bu takvim etkinliği orijinal etkinliğin bir kopyasıdır ve bir otomasyon ile mevcut takvime aktarılmaktadır."
	// DisclosureTag identifies the current disclosure text.
	DisclosureTag = "#calsync"
)

// ManagedMarker decides whether a target event is owned by this service.
// Only owned events may be deleted.
type ManagedMarker struct {
	tag        string
	signatures []string
}

// DefaultMarker recognizes the current tag and every historical disclosure.
func DefaultMarker() ManagedMarker {
	return ManagedMarker{
		tag:        DisclosureTag,
		signatures: []string{LegacyDisclosure},
	}
}

// Disclosure is the text written on surgery copies and appended to info copies.
func (m ManagedMarker) Disclosure() string {
	return LegacyDisclosure + "\n\n" + m.tag
}

// IsManaged reports whether ev carries the back-reference, the marker
// property or any disclosure signature.
func (m ManagedMarker) IsManaged(ev *calendar.Event) bool {
	if ev == nil {
		return false
	}
	if SourceID(ev) != "" {
		return true
	}
	if ev.ExtendedProperties != nil && ev.ExtendedProperties.Shared[ManagedByProperty] == ManagedByValue {
		return true
	}
	return m.HasDisclosure(ev.Description)
}

// HasDisclosure reports whether description already contains a signature.
func (m ManagedMarker) HasDisclosure(description string) bool {
	description = normalizeText(description)
	if description == "" {
		return false
	}
	if strings.Contains(description, normalizeText(m.tag)) {
		return true
	}
	for _, sig := range m.signatures {
		if strings.Contains(description, normalizeText(sig)) {
			return true
		}
	}
	return false
}

// AppendDisclosure adds the disclosure once.
func (m ManagedMarker) AppendDisclosure(description string) string {
	if m.HasDisclosure(description) {
		return description
	}
	description = strings.TrimRight(description, " \t\r\n")
	if description == "" {
		return m.Disclosure()
	}
	return description + "\n\n" + m.Disclosure()
}

// SourceID returns the source back-reference of a target event, if any.
func SourceID(ev *calendar.Event) string {
	if ev == nil || ev.ExtendedProperties == nil {
		return ""
	}
	return ev.ExtendedProperties.Shared[SourceIDProperty]
}

// normalizeText lowercases and collapses whitespace runs to one space.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
