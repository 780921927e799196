package dispatcher

import "errors"

var (
	ErrDisposedTwice      = errors.New("dispatcher: object disposed more than once")
	ErrEventAfterDispose  = errors.New("dispatcher: event dispatched after dispose")
	ErrParentDisposed     = errors.New("dispatcher: parent is disposed")
	ErrObjectDisposed     = errors.New("dispatcher: object is disposed")
	ErrDuplicateGUID      = errors.New("dispatcher: duplicate guid")
	ErrDuplicateResource  = errors.New("dispatcher: resource already has an object")
	ErrAdoptCycle         = errors.New("dispatcher: adopt would create a cycle")
	ErrRootDispose        = errors.New("dispatcher: root is disposed by Close")
	ErrAlreadyInitialized = errors.New("dispatcher: root already initialized")
	ErrConnectionClosed   = errors.New("dispatcher: connection closed")
	ErrMissingType        = errors.New("dispatcher: missing object type")
)
