package transfer

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument = errors.New("transfer: invalid argument")
	ErrConfiguration   = errors.New("transfer: configuration error")
	ErrTransfer        = errors.New("transfer: transfer failed")

	errInvalidRead  = errors.New("transfer: reader returned an invalid count")
	errInvalidWrite = errors.New("transfer: writer returned an invalid count")
)

// Side identifies which stream of a transfer failed.
type Side uint8

const (
	Inbound Side = iota + 1
	Outbound
)

func (s Side) String() string {
	switch s {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// TransferError reports an I/O failure in the middle of a transfer.
// Bytes is the count observed before the failure and is meant for
// diagnostics only.
type TransferError struct {
	Side  Side
	Bytes int64
	Err   error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer: %s stream failed after %d bytes: %v", e.Side, e.Bytes, e.Err)
}

func (e *TransferError) Unwrap() []error {
	return []error{ErrTransfer, e.Err}
}

func inboundError(n int64, err error) error {
	return &TransferError{Side: Inbound, Bytes: n, Err: err}
}

func outboundError(n int64, err error) error {
	return &TransferError{Side: Outbound, Bytes: n, Err: err}
}

// IsInbound reports whether err is a TransferError raised by the inbound side.
func IsInbound(err error) bool {
	var te *TransferError
	return errors.As(err, &te) && te.Side == Inbound
}

// IsOutbound reports whether err is a TransferError raised by the outbound side.
func IsOutbound(err error) bool {
	var te *TransferError
	return errors.As(err, &te) && te.Side == Outbound
}
