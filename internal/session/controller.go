// Package session owns a user's live study tree: it keeps the tree in sync
// with the remote document store and applies local mutations optimistically.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/p-n-ai/study-tracker/internal/docstore"
	"github.com/p-n-ai/study-tracker/internal/identity"
	"github.com/p-n-ai/study-tracker/internal/progress"
)

const defaultWriteTimeout = 10 * time.Second

// Config holds dependencies for a Controller.
type Config struct {
	Store        docstore.Store
	Namespace    string
	AppID        string
	WriteTimeout time.Duration // per write (default 10s)
	Events       EventLogger
}

// Controller owns the in-memory tree for one session.
//
// With no identity the controller is idle and the tree is empty. Start opens
// a single subscription to the user's document; every snapshot replaces the
// whole tree. Mutations update the tree immediately and then write the whole
// document in the background. Writes reach the store one at a time in
// mutation order. Write failures are logged and never rolled back, and a
// snapshot that arrives after a newer local mutation still wins.
type Controller struct {
	store        docstore.Store
	namespace    string
	appID        string
	writeTimeout time.Duration
	events       EventLogger

	mu          sync.Mutex
	user        identity.Identity
	active      bool
	path        string
	tree        progress.Tree
	gen         uint64 // bumped on every Start/Stop; stale callbacks compare against it
	version     uint64 // bumped on every tree replacement
	unsubscribe func()
	cancel      context.CancelFunc
	observers   map[int]func(progress.Tree)
	nextObs     int

	notifyMu sync.Mutex
	notified uint64

	writeMu  sync.Mutex
	queue    []pendingWrite
	draining bool
	writes   sync.WaitGroup
}

type pendingWrite struct {
	userID string
	path   string
	doc    []byte
}

// NewController creates an idle controller.
func NewController(cfg Config) *Controller {
	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = defaultWriteTimeout
	}
	events := cfg.Events
	if events == nil {
		events = NopEventLogger{}
	}
	return &Controller{
		store:        cfg.Store,
		namespace:    cfg.Namespace,
		appID:        cfg.AppID,
		writeTimeout: writeTimeout,
		events:       events,
		tree:         progress.Tree{},
		observers:    make(map[int]func(progress.Tree)),
	}
}

// Start binds the controller to a user and subscribes to their document.
// Starting with the identity already bound is a no-op; a different identity
// tears down the previous subscription first. An empty identity id is the
// same as Stop.
func (c *Controller) Start(ctx context.Context, user identity.Identity) {
	if user.ID == "" {
		c.Stop()
		return
	}

	c.mu.Lock()
	if c.active && c.user.ID == user.ID {
		c.user = user
		c.mu.Unlock()
		return
	}
	prevUnsub, prevCancel := c.detachLocked()
	c.gen++
	gen := c.gen
	c.user = user
	c.active = true
	c.path = docstore.Path(c.namespace, c.appID, user.ID)
	subCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	path := c.path
	version := c.replaceLocked(progress.Tree{})
	c.mu.Unlock()

	release(prevUnsub, prevCancel)
	c.notify(version, progress.Tree{})

	slog.Info("session starting", "user_id", user.ID, "path", path)

	unsubscribe, err := c.store.Subscribe(subCtx, path,
		func(doc []byte) { c.applySnapshot(gen, doc) },
		func(err error) { c.reportError(gen, EventSubscribeFailed, err) },
	)
	if err != nil {
		c.reportError(gen, EventSubscribeFailed, err)
		return
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		unsubscribe()
		return
	}
	c.unsubscribe = unsubscribe
	c.mu.Unlock()
}

// Stop unsubscribes, clears the tree and returns the controller to idle.
// In-flight writes are not cancelled.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	unsub, cancel := c.detachLocked()
	c.gen++
	userID := c.user.ID
	c.user = identity.Identity{}
	c.active = false
	c.path = ""
	version := c.replaceLocked(progress.Tree{})
	c.mu.Unlock()

	release(unsub, cancel)
	c.notify(version, progress.Tree{})
	slog.Info("session stopped", "user_id", userID)
}

// Identity returns the bound identity; ok is false when idle.
func (c *Controller) Identity() (identity.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user, c.active
}

// Tree returns a deep copy of the current tree.
func (c *Controller) Tree() progress.Tree {
	c.mu.Lock()
	t := c.tree
	c.mu.Unlock()
	return t.Clone()
}

// Observe registers fn to receive a copy of the tree after every change.
// fn runs on the goroutine that caused the change, one call at a time, and
// must not call back into the controller synchronously.
func (c *Controller) Observe(fn func(progress.Tree)) (cancel func()) {
	c.mu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

// Wait blocks until every dispatched write has resolved.
func (c *Controller) Wait() {
	c.writes.Wait()
}

// Update applies fn to the current tree. fn must be a pure transformation
// that returns its input unchanged to signal a no-op. It reports whether the
// tree changed.
func (c *Controller) Update(fn func(progress.Tree) progress.Tree) bool {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return false
	}
	prev := c.tree
	next := fn(prev)
	if sameTree(prev, next) {
		c.mu.Unlock()
		return false
	}
	version := c.replaceLocked(next)
	userID := c.user.ID
	// Enqueued under mu so the queue order matches the mutation order.
	c.enqueueWrite(userID, c.path, next)
	c.mu.Unlock()

	c.notify(version, next)
	c.logEvent(userID, EventMutationApplied, map[string]any{"subjects": len(next)})
	return true
}

// AddSubject appends a subject.
func (c *Controller) AddSubject(name string) bool {
	return c.Update(func(t progress.Tree) progress.Tree {
		return progress.AddSubject(t, name)
	})
}

// DeleteSubject removes a subject.
func (c *Controller) DeleteSubject(subjectID string) bool {
	return c.Update(func(t progress.Tree) progress.Tree {
		return progress.DeleteSubject(t, subjectID)
	})
}

// AddChapter appends a chapter with one section per kind.
func (c *Controller) AddChapter(subjectID, name string, kinds []string) bool {
	return c.Update(func(t progress.Tree) progress.Tree {
		return progress.AddChapter(t, subjectID, name, kinds)
	})
}

// DeleteChapter removes a chapter.
func (c *Controller) DeleteChapter(subjectID, chapterID string) bool {
	return c.Update(func(t progress.Tree) progress.Tree {
		return progress.DeleteChapter(t, subjectID, chapterID)
	})
}

// AddGenericSection appends a custom section to a chapter.
func (c *Controller) AddGenericSection(subjectID, chapterID, label string) bool {
	return c.Update(func(t progress.Tree) progress.Tree {
		return progress.AddGenericSection(t, subjectID, chapterID, label)
	})
}

// DeleteSection removes a section from a chapter.
func (c *Controller) DeleteSection(subjectID, chapterID, sectionID string) bool {
	return c.Update(func(t progress.Tree) progress.Tree {
		return progress.DeleteSection(t, subjectID, chapterID, sectionID)
	})
}

// ToggleQuestion flips one question.
func (c *Controller) ToggleQuestion(ref progress.QuestionRef) bool {
	return c.Update(func(t progress.Tree) progress.Tree {
		return progress.ToggleQuestion(t, ref)
	})
}

// GenerateQuestions replaces a section's questions; count 0 resets it.
func (c *Controller) GenerateQuestions(subjectID, chapterID, sectionID string, count int) bool {
	return c.Update(func(t progress.Tree) progress.Tree {
		return progress.GenerateQuestions(t, subjectID, chapterID, sectionID, count)
	})
}

// AddSubExercise adds a sub-exercise to an exercise section.
func (c *Controller) AddSubExercise(subjectID, chapterID, sectionID, name string, count int) bool {
	return c.Update(func(t progress.Tree) progress.Tree {
		return progress.AddSubExercise(t, subjectID, chapterID, sectionID, name, count)
	})
}

func (c *Controller) applySnapshot(gen uint64, doc []byte) {
	tree := progress.Tree{}
	if doc != nil {
		decoded, err := progress.DecodeDocument(doc)
		if err != nil {
			c.reportError(gen, EventSnapshotRejected, fmt.Errorf("decode snapshot: %w", err))
			return
		}
		tree = decoded
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	version := c.replaceLocked(tree)
	userID := c.user.ID
	c.mu.Unlock()

	c.notify(version, tree)
	c.logEvent(userID, EventSnapshotApplied, map[string]any{
		"subjects": len(tree),
		"exists":   doc != nil,
	})
}

// enqueueWrite queues a whole-document write. A single drain goroutine runs
// while the queue is non-empty.
func (c *Controller) enqueueWrite(userID, path string, tree progress.Tree) {
	doc, err := progress.EncodeDocument(tree)
	if err != nil {
		slog.Error("failed to encode document", "user_id", userID, "error", err)
		return
	}

	c.writes.Add(1)
	c.writeMu.Lock()
	c.queue = append(c.queue, pendingWrite{userID: userID, path: path, doc: doc})
	start := !c.draining
	c.draining = true
	c.writeMu.Unlock()

	if start {
		go c.drainWrites()
	}
}

func (c *Controller) drainWrites() {
	for {
		c.writeMu.Lock()
		if len(c.queue) == 0 {
			c.draining = false
			c.writeMu.Unlock()
			return
		}
		w := c.queue[0]
		c.queue[0] = pendingWrite{}
		c.queue = c.queue[1:]
		c.writeMu.Unlock()

		c.write(w)
		c.writes.Done()
	}
}

func (c *Controller) write(w pendingWrite) {
	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()

	if err := c.store.Write(ctx, w.path, w.doc); err != nil {
		slog.Error("document write failed", "user_id", w.userID, "path", w.path, "error", err)
		c.logEvent(w.userID, EventWriteFailed, map[string]any{"error": err.Error()})
		return
	}
	slog.Debug("document written", "user_id", w.userID, "path", w.path, "bytes", len(w.doc))
}

func (c *Controller) reportError(gen uint64, eventType string, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	userID := c.user.ID
	c.mu.Unlock()

	slog.Error("sync error", "user_id", userID, "event", eventType, "error", err)
	c.logEvent(userID, eventType, map[string]any{"error": err.Error()})
}

func (c *Controller) logEvent(userID, eventType string, data map[string]any) {
	if err := c.events.LogEvent(Event{UserID: userID, EventType: eventType, Data: data}); err != nil {
		slog.Warn("failed to log sync event", "type", eventType, "error", err)
	}
}

// notify delivers tree to observers unless a newer version was already
// delivered.
func (c *Controller) notify(version uint64, tree progress.Tree) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if version <= c.notified {
		return
	}
	c.notified = version

	c.mu.Lock()
	observers := make([]func(progress.Tree), 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	c.mu.Unlock()

	for _, fn := range observers {
		fn(tree.Clone())
	}
}

func (c *Controller) replaceLocked(t progress.Tree) uint64 {
	c.tree = t
	c.version++
	return c.version
}

func (c *Controller) detachLocked() (func(), context.CancelFunc) {
	unsub, cancel := c.unsubscribe, c.cancel
	c.unsubscribe, c.cancel = nil, nil
	return unsub, cancel
}

func release(unsub func(), cancel context.CancelFunc) {
	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
}

// sameTree reports whether b is a as returned by a no-op transformation.
func sameTree(a, b progress.Tree) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || &a[0] == &b[0]
}
