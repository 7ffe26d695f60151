package domain

import "errors"

// Token errors
var (
	ErrTokenNameRequired        = errors.New("token name is required")
	ErrInvalidTokenSize         = errors.New("token size must be at least 1")
	ErrTokenGenerationExhausted = errors.New("token generation exhausted: too many value collisions")
	ErrEmptyCriteria            = errors.New("refusing to match every token: criteria is empty")
	ErrOwnerTypeRequired        = errors.New("owner type is required")
	ErrTokenNotFound            = errors.New("token not found")
	ErrDuplicateTokenValue      = errors.New("token value already exists")
)

// Owner errors
var (
	ErrOwnerNotPersisted = errors.New("owner has no durable identity")
	ErrUnknownOwnerType  = errors.New("owner type is not registered")
)
