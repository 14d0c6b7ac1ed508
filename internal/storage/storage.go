package storage

import "errors"

var (
	ErrPrincipalExists   = errors.New("principal already exists")
	ErrPrincipalNotFound = errors.New("principal not found")
)
