package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"cravvr/internal/apperr"
	"cravvr/internal/kitchen"

	"github.com/google/uuid"
)

var errQuit = errors.New("quit")

const usage = `commands:
  confirm|prepare|ready|complete <order#>
  reject <order#> <1-4 | free text>
  refund <order#>
  truck <truck-id>
  board
  quit`

// console renders the board as text and turns typed commands into operator actions
type console struct {
	display *kitchen.Display

	mu  sync.Mutex
	out io.Writer
}

func newConsole(display *kitchen.Display, out io.Writer) *console {
	return &console{display: display, out: out}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *console) printError(err error) {
	var refundErr *kitchen.RefundFailedError
	if errors.As(err, &refundErr) {
		c.printf("! %s (%s), type `refund %d` to retry\n", refundErr.Error(), refundErr.Err.Kind, refundErr.OrderNumber)
		return
	}
	c.printf("! %s (%s)\n", apperr.PublicMessage(err), apperr.KindOf(err))
}

// bell rings the terminal when a new order arrives
func (c *console) bell() {
	c.printf("\a")
}

func (c *console) render(now time.Time) {
	board := c.display.Feed().Board(now)

	var b strings.Builder
	fmt.Fprintf(&b, "\n== truck %s  pending: %d ==\n", board.TruckID, board.PendingCount)
	for _, lane := range board.Lanes {
		fmt.Fprintf(&b, "-- %s (%d)\n", lane.Title, len(lane.Cards))
		for _, card := range lane.Cards {
			marker := " "
			if card.New {
				marker = "*"
			}
			fmt.Fprintf(&b, "%s #%d %-16s %6s  %s", marker, card.Order.OrderNumber, card.Order.CustomerName,
				card.Elapsed, formatMoney(card.Order.TotalAmount))
			for _, a := range card.Actions {
				fmt.Fprintf(&b, " [%s]", a.Kind)
			}
			b.WriteString("\n")
			for _, item := range card.Order.Items {
				fmt.Fprintf(&b, "      %dx %s\n", item.Quantity, item.Name)
			}
			if card.Order.Notes != "" {
				fmt.Fprintf(&b, "      note: %s\n", card.Order.Notes)
			}
		}
	}
	if owed := c.display.OwedRefunds(); len(owed) > 0 {
		fmt.Fprintf(&b, "-- Refunds owed (%d)\n", len(owed))
		for _, r := range owed {
			fmt.Fprintf(&b, "  #%d %s: %s [refund]\n", r.OrderNumber, r.Status, r.Message)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	io.WriteString(c.out, b.String())
}

func formatMoney(minor int64) string {
	return fmt.Sprintf("$%d.%02d", minor/100, minor%100)
}

func (c *console) execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch cmd := strings.ToLower(fields[0]); cmd {
	case "quit", "exit":
		return errQuit
	case "help":
		c.printf("%s\n", usage)
		return nil
	case "board":
		c.render(time.Now())
		return nil
	case "truck":
		if len(fields) != 2 {
			return apperr.New(apperr.Invalid, "usage: truck <truck-id>")
		}
		id, err := uuid.Parse(fields[1])
		if err != nil {
			return apperr.New(apperr.Invalid, "invalid truck id")
		}
		return c.display.SelectTruck(ctx, id)
	case "reject":
		if len(fields) < 3 {
			return apperr.New(apperr.Invalid, "usage: reject <order#> <reason>")
		}
		id, err := c.lookup(fields[1])
		if err != nil {
			return err
		}
		dialog := c.display.NewRejectDialog(id)
		if err := chooseReason(dialog, strings.Join(fields[2:], " ")); err != nil {
			dialog.Cancel()
			return err
		}
		return dialog.Confirm(ctx)
	case "refund":
		if len(fields) != 2 {
			return apperr.New(apperr.Invalid, "usage: refund <order#>")
		}
		id, err := c.owedRefund(fields[1])
		if err != nil {
			return err
		}
		if err := c.display.RetryRefund(ctx, id); err != nil {
			return err
		}
		c.printf("refund for %s issued\n", fields[1])
		return nil
	default:
		kind := kitchen.ActionKind(cmd)
		switch kind {
		case kitchen.ActionConfirm, kitchen.ActionPrepare, kitchen.ActionReady, kitchen.ActionComplete:
		default:
			return apperr.New(apperr.Invalid, fmt.Sprintf("unknown command %q, type help", cmd))
		}
		if len(fields) != 2 {
			return apperr.New(apperr.Invalid, fmt.Sprintf("usage: %s <order#>", cmd))
		}
		id, err := c.lookup(fields[1])
		if err != nil {
			return err
		}
		return c.display.Perform(ctx, id, kind, "")
	}
}

// chooseReason selects a canned reason by its 1-based number, or free text otherwise
func chooseReason(dialog *kitchen.RejectDialog, arg string) error {
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(kitchen.CannedRejectReasons) {
			return apperr.New(apperr.Invalid, "no such reason")
		}
		return dialog.Select(kitchen.CannedRejectReasons[n-1])
	}
	if err := dialog.Select(kitchen.OtherReason); err != nil {
		return err
	}
	dialog.SetOtherText(arg)
	if !dialog.CanConfirm() {
		return apperr.New(apperr.Invalid, "a reason is required")
	}
	return nil
}

// lookup resolves a displayed order number to the order id
func (c *console) lookup(arg string) (uuid.UUID, error) {
	n, err := strconv.ParseInt(strings.TrimPrefix(arg, "#"), 10, 64)
	if err != nil {
		return uuid.Nil, apperr.New(apperr.Invalid, "invalid order number")
	}
	for _, e := range c.display.Feed().Entries() {
		if e.Order.OrderNumber == n {
			return e.Order.ID, nil
		}
	}
	return uuid.Nil, apperr.New(apperr.NotFound, fmt.Sprintf("order #%d is not on the board", n))
}


// owedRefund resolves an order number to an order whose refund failed.
// Rejected and cancelled orders are off the board, so the owed list is searched instead.
func (c *console) owedRefund(arg string) (uuid.UUID, error) {
	n, err := strconv.ParseInt(strings.TrimPrefix(arg, "#"), 10, 64)
	if err != nil {
		return uuid.Nil, apperr.New(apperr.Invalid, "invalid order number")
	}
	for _, r := range c.display.OwedRefunds() {
		if r.OrderNumber == n {
			return r.OrderID, nil
		}
	}
	return uuid.Nil, apperr.New(apperr.NotFound, fmt.Sprintf("no refund is owed for order #%d", n))
}
