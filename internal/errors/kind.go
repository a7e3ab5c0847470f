// Package errors turns raw store, bus and transport failures into a small
// closed set of kinds that the coordination components reason about.
// Driver-specific codes never leave this package.
package errors

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

type Kind int

const (
	KindOther Kind = iota
	KindConflict
	KindIntegrity
	KindAuthorization
	KindConnectivity
)

func (k Kind) String() string {
	switch k {
	case KindConflict:
		return "conflict"
	case KindIntegrity:
		return "integrity"
	case KindAuthorization:
		return "authorization"
	case KindConnectivity:
		return "connectivity"
	default:
		return "other"
	}
}

var (
	// ErrInvalidArgument marks caller mistakes (self-like, empty room name).
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotPermitted is returned when a privileged write was rejected.
	ErrNotPermitted = errors.New("not permitted")
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")
)

// Error carries a classified failure plus an optional user-facing message.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	case e.Msg != "":
		b.WriteString(e.Msg)
	default:
		b.WriteString(e.Kind.String())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error without an underlying cause.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap classifies err and annotates it with op. Nil stays nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: Classify(err), Op: op, Err: err}
}

// WithMessage wraps err keeping its kind but overriding the user-facing text.
func WithMessage(op, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: Classify(err), Op: op, Msg: msg, Err: err}
}

// Invalid builds an ErrInvalidArgument with context.
func Invalid(op, msg string) error {
	return &Error{Kind: KindOther, Op: op, Msg: msg, Err: fmt.Errorf("%w: %s", ErrInvalidArgument, msg)}
}

// Is reports whether err classifies as kind.
func Is(err error, kind Kind) bool {
	return err != nil && Classify(err) == kind
}

// Classify maps any error to a Kind. Already-classified errors keep their kind.
func Classify(err error) Kind {
	if err == nil {
		return KindOther
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return KindConflict
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return KindIntegrity
	case errors.Is(err, ErrNotPermitted):
		return KindAuthorization
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, mysql.ErrInvalidConn),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, net.ErrClosed):
		return KindConnectivity
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return KindConflict
		case pgErr.Code == "23503":
			return KindIntegrity
		case pgErr.Code == "42501":
			return KindAuthorization
		case strings.HasPrefix(pgErr.Code, "08"):
			return KindConnectivity
		}
		return KindOther
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1062:
			return KindConflict
		case 1451, 1452:
			return KindIntegrity
		case 1044, 1045, 1142:
			return KindAuthorization
		}
		return KindOther
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindConnectivity
	}

	// sqlite without TranslateError only exposes the message text
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return KindConflict
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return KindIntegrity
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "i/o timeout"):
		return KindConnectivity
	}
	return KindOther
}

// Message converts err into the human-readable status shown to the user.
func Message(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}

	switch Classify(err) {
	case KindConnectivity:
		return "Could not reach the server. Check your connection and retry."
	case KindIntegrity:
		return "Profile not synchronized, please retry."
	case KindAuthorization:
		return "Not permitted or failed."
	case KindConflict:
		return "Already exists."
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound) {
		return "Not found."
	}
	return "Something went wrong. Please retry."
}
