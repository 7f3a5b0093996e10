package models

import "errors"

var (
	// ErrNotFound indicates the requested conversation or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates a malformed request.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConfiguration indicates missing or inconsistent settings, such as a provider without credentials.
	ErrConfiguration = errors.New("configuration error")

	// ErrDataIntegrity indicates a source file that cannot be decoded or chunked.
	ErrDataIntegrity = errors.New("data integrity error")

	// ErrIndexInProgress indicates another indexing run holds the index lock.
	ErrIndexInProgress = errors.New("indexing already in progress")

	// ErrProviderUnavailable indicates an LLM, embedding, or rerank provider failed after retries.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrRateLimited indicates the provider rejected the request with a rate limit.
	ErrRateLimited = errors.New("rate limited")
)
