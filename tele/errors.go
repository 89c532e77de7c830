package tele

import (
	"github.com/juju/errors"
)

// Error kinds. Concrete failures are attached with errors.Wrap(cause, kind),
// so errors.Cause(err) is the kind and ErrorStack still shows the cause.
var (
	ErrNoConnection     = errors.New("no connection")
	ErrConnect          = errors.New("connect")
	ErrPublish          = errors.New("publish")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrDecode           = errors.New("decode")
	ErrInternal         = errors.New("internal")
)

func IsKind(err, kind error) bool {
	return err != nil && errors.Cause(err) == kind
}

// Kind returns one of Err* kinds or nil if err is not classified.
func Kind(err error) error {
	switch c := errors.Cause(err); c {
	case ErrNoConnection, ErrConnect, ErrPublish, ErrStoreUnavailable, ErrDecode, ErrInternal:
		return c
	}
	return nil
}

// WrapKind marks err as kind, message keeps err text: "<err>: <kind>".
func WrapKind(err, kind error) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, kind, "%v", err)
}
