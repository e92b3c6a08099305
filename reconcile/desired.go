package reconcile

import (
	"strings"

	"calsync/classifier"
	"google.golang.org/api/calendar/v3"
)

const (
	// SurgeryTitlePrefix starts every masked surgery title.
	SurgeryTitlePrefix = "Surgery "
	// HighlightColorID is the palette color forced on surgery copies.
	HighlightColorID = "11"
)

// DesiredState is what the target copy of a source event should look like.
type DesiredState struct {
	Title       string
	Description string
	ColorID     string
	Location    string
	Start       *calendar.EventDateTime
	End         *calendar.EventDateTime
	SourceID    string
}

func (e *Engine) desiredState(src *calendar.Event, category classifier.Category) *DesiredState {
	d := &DesiredState{
		Title:       strings.TrimSpace(src.Summary),
		Description: src.Description,
		ColorID:     src.ColorId,
		Location:    strings.TrimSpace(src.Location),
		Start:       copyDateTime(src.Start),
		End:         copyDateTime(src.End),
		SourceID:    src.Id,
	}

	switch category {
	case classifier.Surgery:
		d.Title = strings.TrimSpace(SurgeryTitlePrefix + e.classifier.CleanDisplayName(src.Summary))
		d.Description = e.marker.Disclosure()
		d.ColorID = HighlightColorID
	case classifier.Info:
		d.Description = e.marker.AppendDisclosure(src.Description)
	}
	return d
}

// SurgeryName reports whether title is a masked surgery title and returns
// the patient name it carries. A bare "Surgery" has an empty name.
func SurgeryName(title string) (string, bool) {
	title = strings.TrimSpace(title)
	if title == strings.TrimSpace(SurgeryTitlePrefix) {
		return "", true
	}
	if !strings.HasPrefix(title, SurgeryTitlePrefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(title, SurgeryTitlePrefix)), true
}

// Event renders the insert payload.
func (d *DesiredState) Event() *calendar.Event {
	return &calendar.Event{
		Summary:            d.Title,
		Description:        d.Description,
		ColorId:            d.ColorID,
		Location:           d.Location,
		Start:              copyDateTime(d.Start),
		End:                copyDateTime(d.End),
		ExtendedProperties: d.extendedProperties(),
		Reminders:          &calendar.EventReminders{UseDefault: true},
	}
}

// Patch renders a patch payload that moves current to the desired state.
// Fields that must become empty are sent as explicit nulls.
func (d *DesiredState) Patch(current *calendar.Event) *calendar.Event {
	ev := &calendar.Event{
		Summary:            d.Title,
		Description:        d.Description,
		ColorId:            d.ColorID,
		Location:           d.Location,
		Start:              copyDateTime(d.Start),
		End:                copyDateTime(d.End),
		ExtendedProperties: d.extendedProperties(),
	}
	if current == nil {
		return ev
	}
	if d.Description == "" && current.Description != "" {
		ev.NullFields = append(ev.NullFields, "Description")
	}
	if d.ColorID == "" && current.ColorId != "" {
		ev.NullFields = append(ev.NullFields, "ColorId")
	}
	if d.Location == "" && current.Location != "" {
		ev.NullFields = append(ev.NullFields, "Location")
	}
	return ev
}

func (d *DesiredState) extendedProperties() *calendar.EventExtendedProperties {
	return &calendar.EventExtendedProperties{
		Shared: map[string]string{
			SourceIDProperty:  d.SourceID,
			ManagedByProperty: ManagedByValue,
		},
	}
}

// copyDateTime keeps timed instants only; all-day fields are never synced.
func copyDateTime(dt *calendar.EventDateTime) *calendar.EventDateTime {
	if dt == nil {
		return nil
	}
	return &calendar.EventDateTime{
		DateTime: dt.DateTime,
		TimeZone: dt.TimeZone,
	}
}
