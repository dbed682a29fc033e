package kitchen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cravvr/internal/apperr"
)

// OtherReason selects free-text entry in the reject dialog
const OtherReason = "Other"

// CannedRejectReasons are offered before the free-text option
var CannedRejectReasons = []string{
	"Kitchen is too busy right now",
	"Out of ingredients",
	"Closing soon",
	"Item unavailable",
}

// RejectDialog captures a reason before an order is rejected
type RejectDialog struct {
	submit func(ctx context.Context, reason string) error

	mu        sync.Mutex
	selected  string
	otherText string
	open      bool
}

// NewRejectDialog opens a dialog that calls submit with the chosen reason
func NewRejectDialog(submit func(ctx context.Context, reason string) error) *RejectDialog {
	return &RejectDialog{submit: submit, open: true}
}

// Reasons lists the selectable options
func (r *RejectDialog) Reasons() []string {
	return append(append([]string{}, CannedRejectReasons...), OtherReason)
}

// Select chooses a canned reason or OtherReason
func (r *RejectDialog) Select(reason string) error {
	for _, known := range r.Reasons() {
		if reason == known {
			r.mu.Lock()
			r.selected = reason
			r.mu.Unlock()
			return nil
		}
	}
	return apperr.New(apperr.Invalid, fmt.Sprintf("unknown reason %q", reason))
}

// SetOtherText sets the free-text reason used when OtherReason is selected
func (r *RejectDialog) SetOtherText(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.otherText = text
}

// Reason returns the reason that Confirm would submit
func (r *RejectDialog) Reason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reasonLocked()
}

func (r *RejectDialog) reasonLocked() string {
	if r.selected == OtherReason {
		return strings.TrimSpace(r.otherText)
	}
	return r.selected
}

// CanConfirm reports whether a usable reason has been given
func (r *RejectDialog) CanConfirm() bool {
	return r.Reason() != ""
}

// Confirm submits the reason and closes the dialog on success.
// On failure the dialog stays open and the error is returned, except for a
// *RefundFailedError: the rejection committed, so the dialog closes and the error is returned.
func (r *RejectDialog) Confirm(ctx context.Context) error {
	r.mu.Lock()
	if !r.open {
		r.mu.Unlock()
		return apperr.New(apperr.Invalid, "dialog is closed")
	}
	reason := r.reasonLocked()
	r.mu.Unlock()

	if reason == "" {
		return apperr.New(apperr.Invalid, "choose a reason first")
	}
	err := r.submit(ctx, reason)
	var refundErr *RefundFailedError
	if err != nil && !errors.As(err, &refundErr) {
		return err
	}

	r.mu.Lock()
	r.open = false
	r.mu.Unlock()
	return err
}

// Cancel closes the dialog without rejecting
func (r *RejectDialog) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = false
}

// IsOpen reports whether the dialog is still showing
func (r *RejectDialog) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}
