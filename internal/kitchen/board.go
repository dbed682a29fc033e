// Package kitchen implements the kitchen display: the live order feed, the lane board,
// operator actions and reject-reason capture.
package kitchen

import (
	"fmt"
	"sort"
	"time"

	"cravvr/internal/models"

	"github.com/google/uuid"
)

// RefreshInterval is how often elapsed times on the board are recomputed
const RefreshInterval = 10 * time.Second

// Lane titles, in display order
const (
	LaneIncoming   = "Incoming"
	LaneInProgress = "In Progress"
	LaneReady      = "Ready"
)

var laneStatuses = []struct {
	title    string
	statuses []models.OrderStatus
}{
	{LaneIncoming, []models.OrderStatus{models.OrderStatusPending}},
	{LaneInProgress, []models.OrderStatus{models.OrderStatusConfirmed, models.OrderStatusPreparing}},
	{LaneReady, []models.OrderStatus{models.OrderStatusReady}},
}

// ActionKind identifies an operator action on a card
type ActionKind string

// Operator actions
const (
	ActionConfirm  ActionKind = "confirm"
	ActionReject   ActionKind = "reject"
	ActionPrepare  ActionKind = "prepare"
	ActionReady    ActionKind = "ready"
	ActionComplete ActionKind = "complete"
)

// Action is a button on an order card
type Action struct {
	Kind   ActionKind         `json:"kind"`
	Label  string             `json:"label"`
	Target models.OrderStatus `json:"target"`
	// NeedsReason opens reason capture instead of dispatching directly
	NeedsReason bool `json:"needs_reason,omitempty"`
}

var actions = map[models.OrderStatus][]Action{
	models.OrderStatusPending: {
		{Kind: ActionConfirm, Label: "Confirm", Target: models.OrderStatusConfirmed},
		{Kind: ActionReject, Label: "Reject", Target: models.OrderStatusRejected, NeedsReason: true},
	},
	models.OrderStatusConfirmed: {{Kind: ActionPrepare, Label: "Start Preparing", Target: models.OrderStatusPreparing}},
	models.OrderStatusPreparing: {{Kind: ActionReady, Label: "Mark Ready", Target: models.OrderStatusReady}},
	models.OrderStatusReady:     {{Kind: ActionComplete, Label: "Complete", Target: models.OrderStatusCompleted}},
}

// ActionsFor returns the actions available for an order in the given status
func ActionsFor(status models.OrderStatus) []Action {
	src := actions[status]
	out := make([]Action, len(src))
	copy(out, src)
	return out
}

// ActionFor looks up one action for a status
func ActionFor(status models.OrderStatus, kind ActionKind) (Action, bool) {
	for _, a := range actions[status] {
		if a.Kind == kind {
			return a, true
		}
	}
	return Action{}, false
}

// FormatElapsed renders time since an order was placed
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d/time.Second))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d/time.Minute))
	default:
		return fmt.Sprintf("%dh %dm", int(d/time.Hour), int((d%time.Hour)/time.Minute))
	}
}

// Entry is an order held by the display together with its highlight flag
type Entry struct {
	Order models.OrderView
	New   bool
}

type Card struct {
	Order   models.OrderView `json:"order"`
	Elapsed string           `json:"elapsed"`
	New     bool             `json:"new"`
	Actions []Action         `json:"actions"`
}

type Lane struct {
	Title string `json:"title"`
	Cards []Card `json:"cards"`
}

type Board struct {
	TruckID      uuid.UUID `json:"truck_id"`
	Lanes        []Lane    `json:"lanes"`
	PendingCount int       `json:"pending_count"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// BuildBoard partitions entries into the three lanes. Terminal orders are dropped.
// Cards within a lane keep the order of entries.
func BuildBoard(truckID uuid.UUID, entries []Entry, now time.Time) Board {
	board := Board{TruckID: truckID, GeneratedAt: now, Lanes: make([]Lane, len(laneStatuses))}
	index := make(map[models.OrderStatus]int)
	for i, l := range laneStatuses {
		board.Lanes[i] = Lane{Title: l.title, Cards: []Card{}}
		for _, s := range l.statuses {
			index[s] = i
		}
	}

	for _, e := range entries {
		i, ok := index[e.Order.Status]
		if !ok {
			continue
		}
		if e.Order.Status == models.OrderStatusPending {
			board.PendingCount++
		}
		board.Lanes[i].Cards = append(board.Lanes[i].Cards, Card{
			Order:   e.Order,
			Elapsed: FormatElapsed(now.Sub(e.Order.CreatedAt)),
			New:     e.New,
			Actions: ActionsFor(e.Order.Status),
		})
	}
	return board
}

// EntriesFromViews wraps fetched orders as entries, newest first
func EntriesFromViews(views []models.OrderView) []Entry {
	entries := make([]Entry, len(views))
	for i, v := range views {
		entries[i] = Entry{Order: v}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Order.CreatedAt.After(entries[j].Order.CreatedAt)
	})
	return entries
}
