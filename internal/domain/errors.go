package domain

import "errors"

var (
	// ErrInvalidParameter covers bad version, level, contrast, brightness,
	// empty words, undecodable images and words too long to encode.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrPayloadTooLarge signals an upload above the configured limit.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrUnsupportedFileType signals an upload whose extension is not accepted.
	ErrUnsupportedFileType = errors.New("unsupported file type")
	// ErrRenderFailed wraps failures inside the rendering pipeline.
	ErrRenderFailed = errors.New("rendering failed")
	// ErrInternal covers filesystem and other unexpected failures.
	ErrInternal = errors.New("internal failure")

	// ErrInvalidAPIKey signals that the provided API key is not known.
	ErrInvalidAPIKey = errors.New("invalid api key")
	// ErrTokenStoreNotReady signals that the token store has not been loaded yet.
	ErrTokenStoreNotReady = errors.New("token store not ready")
)
