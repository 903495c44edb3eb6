package triage

import "context"

// Store is the persistence interface for verdicts keyed by fingerprint.
// Entries are immutable once written; re-running the pipeline against an
// unchanged tree and a warm store performs zero classifier calls.
type Store interface {
	Get(ctx context.Context, fingerprint string) (*Verdict, bool, error)
	Put(ctx context.Context, fingerprint string, v *Verdict) error
}
