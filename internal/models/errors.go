package models

import "errors"

var (
	ErrConfig            = errors.New("invalid configuration")
	ErrEmptyContent      = errors.New("no valid content found in document")
	ErrEmptyInput        = errors.New("no documents to ingest")
	ErrEmptyStore        = errors.New("vector store is empty, ingest a document first")
	ErrNotReady          = errors.New("vector store is not initialized, ingest a document first")
	ErrBusy              = errors.New("another operation is in progress")
	ErrDimensionMismatch = errors.New("embedding dimension does not match the vector store")
)
