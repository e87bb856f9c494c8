// Package ledger mirrors the lifecycle and balance of one cash-register
// session. The server is authoritative: balances only change locally when a
// fresh copy of the session is fetched.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/pos"
)

// Gateway is the subset of the remote API the ledger calls.
type Gateway interface {
	OpenSession(ctx context.Context, req pos.OpenSessionRequest) (pos.Session, error)
	CloseSession(ctx context.Context, sessionID string, closingBalance decimal.Decimal, notes string) (pos.Session, error)
	GetSession(ctx context.Context, sessionID string) (pos.Session, error)
	GetActiveSession(ctx context.Context, cashRegisterID string) (pos.Session, error)
	GetSessionSummary(ctx context.Context, sessionID string) (pos.SessionSummary, error)
	CashIn(ctx context.Context, req pos.CashTransactionRequest) (pos.Transaction, error)
	CashOut(ctx context.Context, req pos.CashTransactionRequest) (pos.Transaction, error)
}

// State is one of NoSession, Open or Closed.
type State interface {
	isState()
}

// NoSession means no session has been opened or loaded.
type NoSession struct{}

// Open holds a session accepting sales and cash movements.
type Open struct {
	Session pos.Session
}

// Closed holds a reconciled session. It is terminal.
type Closed struct {
	Session pos.Session
	Closing pos.Closing
}

func (NoSession) isState() {}
func (Open) isState()      {}
func (Closed) isState()    {}

// Ledger is safe for concurrent use. Responses are applied in issue order:
// a response older than the last applied one is dropped.
type Ledger struct {
	gateway Gateway
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	state   State
	issued  uint64
	applied uint64
}

// New returns a ledger in the NoSession state.
func New(gateway Gateway, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{gateway: gateway, logger: logger, now: time.Now, state: NoSession{}}
}

// State returns the current state.
func (l *Ledger) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Current returns the open session, if any.
func (l *Ledger) Current() (pos.Session, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if open, ok := l.state.(Open); ok {
		return open.Session, true
	}
	return pos.Session{}, false
}

// Reset forgets the current session, e.g. when another register is selected.
// In-flight responses issued before the reset are discarded.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.issued++
	l.applied = l.issued
	l.state = NoSession{}
}

// Open opens a session on the register. The opening balance must not be
// negative. Conflicts from the server are returned unchanged.
func (l *Ledger) Open(ctx context.Context, req pos.OpenSessionRequest) (pos.Session, error) {
	if strings.TrimSpace(req.CashRegisterID) == "" {
		return pos.Session{}, pos.Invalid("cashRegisterId", "is required")
	}
	if strings.TrimSpace(req.UserID) == "" {
		return pos.Session{}, pos.Invalid("userId", "is required")
	}
	if req.OpeningBalance.IsNegative() {
		return pos.Session{}, pos.Invalid("openingBalance", "must be zero or greater")
	}

	l.mu.Lock()
	if _, open := l.state.(Open); open {
		l.mu.Unlock()
		return pos.Session{}, pos.ErrSessionOpen
	}
	seq := l.nextLocked()
	l.mu.Unlock()

	session, err := l.gateway.OpenSession(ctx, req)
	if err != nil {
		return pos.Session{}, err
	}
	l.apply(seq, "open", stateFor(session))
	return session, nil
}

// Load adopts the active session of a register, or NoSession when the server
// has none. It reports whether a session was found.
func (l *Ledger) Load(ctx context.Context, cashRegisterID string) (bool, error) {
	l.mu.Lock()
	seq := l.nextLocked()
	l.mu.Unlock()

	session, err := l.gateway.GetActiveSession(ctx, cashRegisterID)
	if err != nil {
		if errors.Is(err, pos.ErrNotFound) {
			l.apply(seq, "load", NoSession{})
			return false, nil
		}
		return false, err
	}
	l.apply(seq, "load", stateFor(session))
	return true, nil
}

// Refresh re-fetches the session and replaces the local view wholesale.
func (l *Ledger) Refresh(ctx context.Context) (pos.Session, error) {
	l.mu.Lock()
	id, ok := sessionID(l.state)
	if !ok {
		l.mu.Unlock()
		return pos.Session{}, pos.ErrNoSession
	}
	seq := l.nextLocked()
	l.mu.Unlock()

	session, err := l.gateway.GetSession(ctx, id)
	if err != nil {
		return pos.Session{}, err
	}
	l.apply(seq, "refresh", stateFor(session))
	return session, nil
}

// Summary fetches the close-screen figures. It has no local effect.
func (l *Ledger) Summary(ctx context.Context) (pos.SessionSummary, error) {
	l.mu.Lock()
	id, ok := sessionID(l.state)
	l.mu.Unlock()
	if !ok {
		return pos.SessionSummary{}, pos.ErrNoSession
	}
	return l.gateway.GetSessionSummary(ctx, id)
}

// Close reconciles and closes the open session. Any difference between the
// counted and expected balance is informational and never blocks the close.
func (l *Ledger) Close(ctx context.Context, closingBalance decimal.Decimal, notes string) (Closed, error) {
	if closingBalance.IsNegative() {
		return Closed{}, pos.Invalid("closingBalance", "must be zero or greater")
	}
	l.mu.Lock()
	open, err := openLocked(l.state)
	if err != nil {
		l.mu.Unlock()
		return Closed{}, err
	}
	seq := l.nextLocked()
	l.mu.Unlock()

	session, err := l.gateway.CloseSession(ctx, open.Session.ID, closingBalance, notes)
	if err != nil {
		return Closed{}, err
	}
	closed := closedFor(session, closingBalance, l.now())
	l.apply(seq, "close", closed)
	l.logger.Info("session closed",
		slog.String("session_id", session.ID),
		slog.String("difference", closed.Closing.Difference.StringFixed(2)))
	return closed, nil
}

// CashIn records cash added to the drawer. Call Refresh to observe the new
// balance.
func (l *Ledger) CashIn(ctx context.Context, amount decimal.Decimal, reason, notes string) (pos.Transaction, error) {
	return l.movement(ctx, pos.CashIn, amount, reason, notes)
}

// CashOut records cash removed from the drawer. Call Refresh to observe the
// new balance.
func (l *Ledger) CashOut(ctx context.Context, amount decimal.Decimal, reason, notes string) (pos.Transaction, error) {
	return l.movement(ctx, pos.CashOut, amount, reason, notes)
}

func (l *Ledger) movement(ctx context.Context, kind pos.TransactionType, amount decimal.Decimal, reason, notes string) (pos.Transaction, error) {
	if !amount.IsPositive() {
		return pos.Transaction{}, pos.Invalid("amount", "must be greater than zero")
	}
	if strings.TrimSpace(reason) == "" {
		return pos.Transaction{}, pos.Invalid("reason", "is required")
	}
	l.mu.Lock()
	open, err := openLocked(l.state)
	l.mu.Unlock()
	if err != nil {
		return pos.Transaction{}, err
	}

	req := pos.CashTransactionRequest{SessionID: open.Session.ID, Amount: amount, Reason: reason, Notes: notes}
	if kind == pos.CashIn {
		return l.gateway.CashIn(ctx, req)
	}
	return l.gateway.CashOut(ctx, req)
}

func (l *Ledger) nextLocked() uint64 {
	l.issued++
	return l.issued
}

func (l *Ledger) apply(seq uint64, op string, next State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if seq <= l.applied {
		l.logger.Debug("discarding stale session response", slog.String("op", op), slog.Uint64("seq", seq), slog.Uint64("applied", l.applied))
		return
	}
	l.applied = seq
	l.state = next
}

func stateFor(session pos.Session) State {
	if session.Status != pos.SessionClosed {
		return Open{Session: session}
	}
	if session.Closing != nil {
		return Closed{Session: session, Closing: *session.Closing}
	}
	return Closed{Session: session, Closing: pos.NewClosing(time.Time{}, session.CurrentBalance, session.CurrentBalance)}
}

// closedFor builds the Closed state from a close response. When the response
// lacks reconciliation figures the counted balance is compared against the
// server's running balance.
func closedFor(session pos.Session, closingBalance decimal.Decimal, now time.Time) Closed {
	if session.Closing != nil {
		return Closed{Session: session, Closing: *session.Closing}
	}
	return Closed{Session: session, Closing: pos.NewClosing(now, closingBalance, session.CurrentBalance)}
}

func sessionID(state State) (string, bool) {
	switch s := state.(type) {
	case Open:
		return s.Session.ID, true
	case Closed:
		return s.Session.ID, true
	}
	return "", false
}

func openLocked(state State) (Open, error) {
	switch s := state.(type) {
	case Open:
		return s, nil
	case Closed:
		return Open{}, pos.ErrSessionClosed
	}
	return Open{}, pos.ErrNoSession
}
