package types

import "errors"

// Error taxonomy for the proxy endpoint. Wrap these with fmt.Errorf("...: %w")
// and classify with errors.Is at the HTTP edge.
var (
	ErrInvalidTarget       = errors.New("invalid target url")
	ErrBodyTooLarge        = errors.New("request body too large")
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
	ErrUpstreamTimeout     = errors.New("upstream timed out")
	ErrExtractionNotFound  = errors.New("video url not found")
	ErrExtractionUpstream  = errors.New("extraction upstream error")
	ErrUnknownSite         = errors.New("unknown site")
	ErrMissingTitle        = errors.New("missing title for discovery")
	ErrInvalidRecord       = errors.New("invalid catalog record")
)
