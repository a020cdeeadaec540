package dataprovider

import "errors"

var (
	ErrUnknownResource = errors.New("dataprovider: unknown resource")
	ErrInvalidResource = errors.New("dataprovider: invalid resource config")
	ErrReadOnly        = errors.New("dataprovider: resource is read-only")
	ErrUnknownAction   = errors.New("dataprovider: unknown action")
	ErrUnexpectedShape = errors.New("dataprovider: unexpected response shape")
	ErrMissingID       = errors.New("dataprovider: missing record id")
)
