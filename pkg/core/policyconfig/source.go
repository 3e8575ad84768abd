//
//  Copyright © Manetu Inc. All rights reserved.
//

package policyconfig

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/manetu/toolgate/pkg/core/opa"
	"github.com/pkg/errors"
)

// Source yields the policy in force.  Current never blocks.
type Source interface {
	Current() *Policy
	Close() error
}

type static struct {
	policy *Policy
}

// Static returns a Source that always yields p.
func Static(p *Policy) Source {
	return &static{policy: p}
}

func (s *static) Current() *Policy { return s.policy }

func (s *static) Close() error { return nil }

// ReloadHook observes each reload attempt.  err is nil on success.
type ReloadHook func(p *Policy, err error)

// WatcherOptions configure a Watcher.
type WatcherOptions struct {
	debounce        time.Duration
	hook            ReloadHook
	compilerOptions []opa.CompilerOptionFunc
}

// WatcherOptionsFunc modifies WatcherOptions.
type WatcherOptionsFunc func(*WatcherOptions)

// WithDebounce sets how long the watcher waits after the last change before reloading.
func WithDebounce(d time.Duration) WatcherOptionsFunc {
	return func(o *WatcherOptions) {
		o.debounce = d
	}
}

// WithReloadHook registers a callback run after every reload attempt.
func WithReloadHook(hook ReloadHook) WatcherOptionsFunc {
	return func(o *WatcherOptions) {
		o.hook = hook
	}
}

// WithCompilerOptions passes rego compiler options through to every compile.
func WithCompilerOptions(options ...opa.CompilerOptionFunc) WatcherOptionsFunc {
	return func(o *WatcherOptions) {
		o.compilerOptions = append(o.compilerOptions, options...)
	}
}

// Watcher is a Source backed by a policy file.  Changes are compiled after a debounce and swapped in
// atomically; a policy that fails to compile is logged and the previous one stays in force.
type Watcher struct {
	path    string
	opts    WatcherOptions
	current atomic.Pointer[Policy]
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	closed  atomic.Bool
}

// ErrWatcherClosed is returned by Reload once the watcher has been closed.
var ErrWatcherClosed = errors.New("policy watcher is closed")

// LoadFile loads and compiles the policy at path.
func LoadFile(path string, options ...opa.CompilerOptionFunc) (*Policy, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return Compile(cfg, options...)
}

// NewWatcher compiles path and starts watching it.  The initial compile must succeed.
func NewWatcher(path string, options ...WatcherOptionsFunc) (*Watcher, error) {
	opts := WatcherOptions{debounce: 500 * time.Millisecond}
	for _, o := range options {
		o(&opts)
	}

	p, err := LoadFile(path, opts.compilerOptions...)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create file watcher")
	}
	// watch the directory so editors that replace the file by rename are seen
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, errors.Wrapf(err, "failed to watch %q", path)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		path:    filepath.Clean(path),
		opts:    opts,
		watcher: fw,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	w.current.Store(p)

	go w.run(ctx)
	return w, nil
}

// Current returns the most recently compiled policy.
func (w *Watcher) Current() *Policy {
	return w.current.Load()
}

// Reload recompiles the file now.  On failure the previous policy is kept.  A closed watcher no longer
// reloads.
func (w *Watcher) Reload() error {
	if w.closed.Load() {
		return ErrWatcherClosed
	}
	p, err := LoadFile(w.path, w.opts.compilerOptions...)
	if err != nil {
		logger.Errorf(agent, "Reload", "policy reload of %s failed, keeping %s: %v", w.path, w.Current().Fingerprint(), err)
	} else {
		w.current.Store(p)
		logger.Infof(agent, "Reload", "policy reloaded from %s (%s)", w.path, p.Fingerprint())
	}
	if w.opts.hook != nil {
		w.opts.hook(p, err)
	}
	return err
}

// run owns the debounce timer, so a pending reload never outlives Close.
func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	defer func() { _ = w.watcher.Close() }()

	var (
		debounce *time.Timer
		fire     <-chan time.Time
	)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-fire:
			fire = nil
			_ = w.Reload()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounce == nil {
					debounce = time.NewTimer(w.opts.debounce)
				} else {
					debounce.Reset(w.opts.debounce)
				}
				fire = debounce.C
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf(agent, "watch", "file watcher error: %v", err)
		}
	}
}

// Close stops watching.  It is safe to call more than once.
func (w *Watcher) Close() error {
	w.once.Do(func() {
		w.closed.Store(true)
		w.cancel()
		<-w.done
	})
	return nil
}
