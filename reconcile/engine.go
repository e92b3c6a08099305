// Package reconcile plans how a target calendar must change to mirror the
// eligible events of a source calendar. Planning is pure: callers fetch the
// events and execute the returned actions.
package reconcile

import (
	"strings"

	"calsync/classifier"
	"google.golang.org/api/calendar/v3"
)

// Categorizer is the subset of the classifier the engine depends on.
type Categorizer interface {
	Categorize(title, colorID, startISO, endISO string) classifier.Category
	CleanDisplayName(title string) string
}

type ActionKind string

const (
	ActionCreate ActionKind = "create"
	ActionUpdate ActionKind = "update"
	ActionSkip   ActionKind = "skip"
	ActionDelete ActionKind = "delete"
)

// MatchReason records which rule paired a source event with a target event.
type MatchReason string

const (
	MatchBySourceID     MatchReason = "by-source-id"
	MatchByTimeAndTitle MatchReason = "by-time-and-title"
	MatchByTitleOnly    MatchReason = "by-title-only"
	MatchNone           MatchReason = "none"
)

// DeleteReasonRemoved is attached to deletions of orphaned copies.
const DeleteReasonRemoved = "removed from source"

// Action is one planned step against the target calendar.
type Action struct {
	Kind     ActionKind
	Category classifier.Category
	Match    MatchReason
	Source   *calendar.Event
	// Target is the matched event for update/skip and the victim for delete.
	Target  *calendar.Event
	Desired *DesiredState
	Changes []Change
	Reason  string
}

// Title is the name used when logging the action.
func (a Action) Title() string {
	if a.Desired != nil && a.Desired.Title != "" {
		return a.Desired.Title
	}
	if a.Target != nil {
		return a.Target.Summary
	}
	if a.Source != nil {
		return a.Source.Summary
	}
	return ""
}

// Plan is the outcome of one reconciliation pass.
type Plan struct {
	// Actions holds one create, update or skip per eligible source event, in source order.
	Actions   []Action
	Deletions []Action
	// Preserved lists unmatched target events without a managed marker.
	Preserved []*calendar.Event
	// Found counts every source event considered, eligible or not.
	Found int
}

// Count returns the number of actions of kind, deletions included.
func (p *Plan) Count(kind ActionKind) int {
	if kind == ActionDelete {
		return len(p.Deletions)
	}
	n := 0
	for _, a := range p.Actions {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

type Engine struct {
	classifier Categorizer
	marker     ManagedMarker
}

func NewEngine(c Categorizer) *Engine {
	return &Engine{classifier: c, marker: DefaultMarker()}
}

// Marker exposes the ownership rules the engine applies.
func (e *Engine) Marker() ManagedMarker {
	return e.marker
}

// Plan pairs every eligible source event with at most one target event and
// lists the managed target events nothing claimed.
func (e *Engine) Plan(source, target []*calendar.Event) *Plan {
	plan := &Plan{Found: len(source)}
	used := make(map[string]struct{}, len(target))

	for _, src := range source {
		category, ok := e.eligible(src)
		if !ok {
			continue
		}

		desired := e.desiredState(src, category)
		match, reason := e.match(src, desired, target, used)

		action := Action{
			Category: category,
			Match:    reason,
			Source:   src,
			Target:   match,
			Desired:  desired,
		}
		if match == nil {
			action.Kind = ActionCreate
			plan.Actions = append(plan.Actions, action)
			continue
		}

		used[match.Id] = struct{}{}
		action.Changes = diff(match, desired)
		if len(action.Changes) == 0 {
			action.Kind = ActionSkip
		} else {
			action.Kind = ActionUpdate
		}
		plan.Actions = append(plan.Actions, action)
	}

	for _, ev := range target {
		if ev == nil || ev.Id == "" {
			continue
		}
		if _, claimed := used[ev.Id]; claimed {
			continue
		}
		if !e.marker.IsManaged(ev) {
			plan.Preserved = append(plan.Preserved, ev)
			continue
		}
		plan.Deletions = append(plan.Deletions, Action{
			Kind:   ActionDelete,
			Match:  MatchNone,
			Target: ev,
			Reason: DeleteReasonRemoved,
		})
	}

	return plan
}

func (e *Engine) eligible(src *calendar.Event) (classifier.Category, bool) {
	if src == nil || src.Id == "" || strings.TrimSpace(src.Summary) == "" || src.Status == "cancelled" {
		return classifier.None, false
	}
	if src.Start == nil || src.End == nil || src.Start.DateTime == "" || src.End.DateTime == "" {
		return classifier.None, false
	}
	category := e.classifier.Categorize(src.Summary, src.ColorId, src.Start.DateTime, src.End.DateTime)
	if category == classifier.None {
		return category, false
	}
	return category, true
}

// match walks the rules in priority order. Only the back-reference rule may
// claim an event already linked to a source; fallbacks consider unlinked
// events only, so one source can never steal another source's copy.
func (e *Engine) match(src *calendar.Event, desired *DesiredState, target []*calendar.Event, used map[string]struct{}) (*calendar.Event, MatchReason) {
	available := func(ev *calendar.Event) bool {
		if ev == nil || ev.Id == "" {
			return false
		}
		_, claimed := used[ev.Id]
		return !claimed
	}

	for _, ev := range target {
		if available(ev) && SourceID(ev) == src.Id {
			return ev, MatchBySourceID
		}
	}

	titleMatches := func(ev *calendar.Event) bool {
		title := strings.TrimSpace(ev.Summary)
		return title == desired.Title || title == strings.TrimSpace(src.Summary)
	}

	for _, ev := range target {
		if available(ev) && SourceID(ev) == "" && sameInstant(ev.Start, src.Start) && titleMatches(ev) {
			return ev, MatchByTimeAndTitle
		}
	}

	for _, ev := range target {
		if available(ev) && SourceID(ev) == "" && titleMatches(ev) {
			return ev, MatchByTitleOnly
		}
	}

	return nil, MatchNone
}
