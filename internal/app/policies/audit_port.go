package policies

import "context"

// Archiver stores raw inbound payloads for audit. Best effort: failures are
// logged by implementations and never surface to the ingestion path.
type Archiver interface {
	Archive(ctx context.Context, key string, payload []byte) error
}
