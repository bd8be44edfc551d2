// Package docstore provides the remote document stores the sync controller
// reads from and writes to. A document is an opaque JSON blob addressed by
// a slash-separated path; nil means the document does not exist.
package docstore

import (
	"context"
	"fmt"
	"strings"
)

// Store is a document store with live subscriptions.
type Store interface {
	// Subscribe delivers the current document and then every subsequent
	// change at path. The returned function stops delivery.
	Subscribe(ctx context.Context, path string, onSnapshot func(doc []byte), onError func(error)) (unsubscribe func(), err error)
	// Write replaces the document at path wholesale.
	Write(ctx context.Context, path string, doc []byte) error
}

// Path returns the location of a user's subject document.
func Path(namespace, appID, userID string) string {
	return strings.Join([]string{namespace, appID, userID, "data", "subjects"}, "/")
}

// ReadOnce returns the current document at path, or nil if it does not
// exist.
func ReadOnce(ctx context.Context, s Store, path string) ([]byte, error) {
	type result struct {
		doc []byte
		err error
	}
	ch := make(chan result, 1)
	deliver := func(r result) {
		select {
		case ch <- r:
		default:
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	unsubscribe, err := s.Subscribe(ctx, path,
		func(doc []byte) { deliver(result{doc: doc}) },
		func(err error) { deliver(result{err: err}) },
	)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", path, err)
	}
	defer unsubscribe()

	select {
	case r := <-ch:
		return r.doc, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
