package token

import (
	"context"
	"fmt"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

// MetadataStore holds the token's write-once descriptive metadata.
type MetadataStore struct{}

// Set writes metadata. Only called while deploying; a second call fails
// with storage.ErrDuplicateKey.
func (MetadataStore) Set(ctx context.Context, tx *Tx, m domain.Metadata) error {
	if err := tx.PutMetadata(ctx, &m); err != nil {
		return fmt.Errorf("set metadata: %w", err)
	}
	return nil
}

// Get returns the metadata. Returns storage.ErrNotFound before deployment.
func (MetadataStore) Get(ctx context.Context, r storage.LedgerReader) (*domain.Metadata, error) {
	return r.Metadata(ctx)
}
