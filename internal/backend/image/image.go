// Package image serves variables from firmware image files and reloads them
// when the files change on disk.
package image

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/multierr"

	"github.com/bmcpi/varstore/internal/backend"
	"github.com/bmcpi/varstore/internal/config"
	"github.com/bmcpi/varstore/internal/firmware/efi"
	"github.com/bmcpi/varstore/internal/firmware/varcrypt"
	"github.com/bmcpi/varstore/internal/firmware/varstore"
)

const tracerName = "github.com/bmcpi/varstore/internal/backend/image"

var errNoEngine = errors.New("no variable stores loaded")

// Config describes the images to serve.
type Config struct {
	Sources       []varstore.Source
	IndexCapacity int
	// RootKey enables decryption of protected variables when set.
	RootKey []byte
	Exempt  []efi.Identity
	// MaxVariableSize caps the value size Get returns. Zero means no cap.
	MaxVariableSize int
}

// FromConfig translates the store and cipher settings of cfg. The root key
// file, if any, is read from fs.
func FromConfig(cfg *config.Config, fs afero.Fs) (Config, error) {
	format, err := varstore.ParseFormat(cfg.Store.NvFormat)
	if err != nil {
		return Config{}, err
	}
	key, err := cfg.RootKey(fs)
	if err != nil {
		return Config{}, err
	}
	exempt, err := cfg.ExemptIdentities()
	if err != nil {
		return Config{}, err
	}
	return Config{
		Sources: []varstore.Source{
			{Type: varstore.StoreHob, Path: cfg.Store.HobPath, Format: varstore.FormatRaw, Alignment: cfg.Store.Alignment},
			{Type: varstore.StoreNv, Path: cfg.Store.NvPath, Format: format, Alignment: cfg.Store.Alignment},
		},
		IndexCapacity:   cfg.Store.IndexCapacity,
		RootKey:         key,
		Exempt:          exempt,
		MaxVariableSize: cfg.Cipher.MaxVariableSize,
	}, nil
}

// Watcher holds one engine over the configured images. Every image change
// starts a new boot stage: a fresh engine replaces the old one.
type Watcher struct {
	// Log is the logger to be used in the image backend.
	Log logr.Logger

	fs  afero.Fs
	cfg Config

	mu     sync.Mutex // serializes engine calls, the engine mutates its index tables
	engine *varstore.Engine
	totals varstore.Stats // counters of closed engines

	watcher *fsnotify.Watcher
}

var (
	_ backend.VariableReader = (*Watcher)(nil)
	_ backend.StoreInspector = (*Watcher)(nil)
	_ backend.StatsReporter  = (*Watcher)(nil)
)

// NewWatcher loads the configured images.
func NewWatcher(ctx context.Context, l logr.Logger, fs afero.Fs, cfg Config) (*Watcher, error) {
	w := &Watcher{
		Log: l.WithName("image"),
		fs:  fs,
		cfg: cfg,
	}
	if err := w.Reload(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// Watch subscribes to changes of the image files. It needs the images to
// live on the OS filesystem.
func (w *Watcher) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, src := range w.cfg.Sources {
		if src.Path == "" {
			continue
		}
		// Watch the directory so that images replaced by rename are seen.
		if err := watcher.Add(filepath.Dir(src.Path)); err != nil {
			return multierr.Combine(err, watcher.Close())
		}
	}
	w.watcher = watcher
	return nil
}

// Start reloads the images whenever one of them is written. It returns when
// ctx is done.
func (w *Watcher) Start(ctx context.Context) {
	if w.watcher == nil {
		<-ctx.Done()
		return
	}
	for {
		select {
		case <-ctx.Done():
			w.Log.Info("stopping watcher")
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				continue
			}
			if !w.watched(event.Name) || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				break
			}
			w.Log.Info("image changed, reloading", "file", event.Name)
			if err := w.Reload(ctx); err != nil {
				w.Log.Error(err, "failed to reload image, keeping the previous stores", "file", event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				continue
			}
			w.Log.Info("error watching file", "err", err)
		}
	}
}

func (w *Watcher) watched(name string) bool {
	for _, src := range w.cfg.Sources {
		if src.Path != "" && filepath.Clean(src.Path) == filepath.Clean(name) {
			return true
		}
	}
	return false
}

// Reload reads the images into a new engine and closes the previous one.
// On error the previous engine stays in service.
func (w *Watcher) Reload(ctx context.Context) error {
	tracer := otel.Tracer(tracerName)
	_, span := tracer.Start(ctx, "backend.image.Reload")
	defer span.End()

	engine, err := w.newEngine()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	w.mu.Lock()
	old := w.engine
	w.engine = engine
	if old != nil {
		w.totals = w.totals.Add(old.Stats())
	}
	w.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			w.Log.Error(err, "failed to close previous engine")
		}
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (w *Watcher) newEngine() (*varstore.Engine, error) {
	stores, err := varstore.LoadStores(w.fs, w.Log, w.cfg.Sources...)
	if err != nil {
		return nil, err
	}
	if len(stores) == 0 {
		return nil, errNoEngine
	}

	opts := []varstore.Option{
		varstore.WithLogger(w.Log),
		varstore.WithIndexCapacity(w.cfg.IndexCapacity),
	}
	if len(w.cfg.RootKey) > 0 {
		codec, err := varcrypt.NewCodec(w.cfg.RootKey, varcrypt.WithLogger(w.Log))
		if err != nil {
			return nil, err
		}
		opts = append(opts, varstore.WithCipher(codec, w.cfg.Exempt...))
	}
	return varstore.NewEngine(stores, opts...)
}

// Close stops watching and closes the engine.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var err error
	if w.engine != nil {
		w.totals = w.totals.Add(w.engine.Stats())
		err = w.engine.Close()
		w.engine = nil
	}
	if w.watcher != nil {
		err = multierr.Combine(err, w.watcher.Close())
		w.watcher = nil
	}
	return err
}

// Get is the implementation of the VariableReader interface.
func (w *Watcher) Get(ctx context.Context, id efi.Identity) (*efi.Variable, error) {
	tracer := otel.Tracer(tracerName)
	_, span := tracer.Start(ctx, "backend.image.Get")
	defer span.End()
	span.SetAttributes(attribute.String("variable.name", id.Name), attribute.String("variable.guid", id.GUID.String()))

	w.mu.Lock()
	v, err := w.get(id)
	w.mu.Unlock()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("variable.size", len(v.Data)))
	span.SetStatus(codes.Ok, "")
	return v, nil
}

func (w *Watcher) get(id efi.Identity) (*efi.Variable, error) {
	if w.engine == nil {
		return nil, errNoEngine
	}
	if w.cfg.MaxVariableSize > 0 {
		_, size, err := w.engine.GetVariable(id.Name, &id.GUID, nil)
		if err != nil && !errors.Is(err, efi.ErrBufferTooSmall) {
			return nil, err
		}
		if size > w.cfg.MaxVariableSize {
			return nil, fmt.Errorf("%s: %d bytes exceed %d: %w", id, size, w.cfg.MaxVariableSize, efi.ErrOutOfResources)
		}
	}
	return w.engine.Lookup(id)
}

// List is the implementation of the VariableReader interface. Variables
// whose value cannot be read are logged and left out.
func (w *Watcher) List(ctx context.Context) ([]efi.Variable, error) {
	tracer := otel.Tracer(tracerName)
	_, span := tracer.Start(ctx, "backend.image.List")
	defer span.End()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.engine == nil {
		span.SetStatus(codes.Error, errNoEngine.Error())
		return nil, errNoEngine
	}

	ids, err := w.engine.Variables()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	vars := make([]efi.Variable, 0, len(ids))
	for _, id := range ids {
		v, err := w.get(id)
		if err != nil {
			w.Log.Error(err, "skipping variable", "variable", id)
			continue
		}
		vars = append(vars, *v)
	}
	span.SetAttributes(attribute.Int("variables", len(vars)))
	span.SetStatus(codes.Ok, "")
	return vars, nil
}

// CipherInfo is the implementation of the VariableReader interface.
func (w *Watcher) CipherInfo(ctx context.Context, id efi.Identity) (varcrypt.Info, error) {
	tracer := otel.Tracer(tracerName)
	_, span := tracer.Start(ctx, "backend.image.CipherInfo")
	defer span.End()
	span.SetAttributes(attribute.String("variable.name", id.Name), attribute.String("variable.guid", id.GUID.String()))

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.engine == nil {
		span.SetStatus(codes.Error, errNoEngine.Error())
		return varcrypt.Info{}, errNoEngine
	}
	info, err := w.engine.GetCipherDataInfo(id.Name, &id.GUID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return varcrypt.Info{}, err
	}
	span.SetStatus(codes.Ok, "")
	return info, nil
}

// Stores is the implementation of the StoreInspector interface.
func (w *Watcher) Stores(ctx context.Context) ([]backend.StoreInfo, error) {
	tracer := otel.Tracer(tracerName)
	_, span := tracer.Start(ctx, "backend.image.Stores")
	defer span.End()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.engine == nil {
		span.SetStatus(codes.Error, errNoEngine.Error())
		return nil, errNoEngine
	}

	index := map[varstore.StoreType]varstore.IndexStats{}
	for _, st := range w.engine.IndexStats() {
		index[st.Store] = st
	}

	var out []backend.StoreInfo
	for _, src := range w.cfg.Sources {
		s := w.engine.Store(src.Type)
		if s == nil || src.Path == "" {
			continue
		}
		info := backend.StoreInfo{
			Type:          s.Type.String(),
			Path:          src.Path,
			Signature:     s.Header.Signature.Name(),
			Size:          s.Header.Size,
			Status:        s.Header.Status().String(),
			Authenticated: s.Header.Authenticated(),
			Index:         index[s.Type],
		}
		for _, r := range s.Records() {
			info.Records++
			if r.State.Live() {
				info.Live++
			}
		}
		out = append(out, info)
	}
	span.SetStatus(codes.Ok, "")
	return out, nil
}

// Stats is the implementation of the StatsReporter interface. It sums the
// counters of every engine this watcher has run.
func (w *Watcher) Stats() varstore.Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.engine == nil {
		return w.totals
	}
	return w.totals.Add(w.engine.Stats())
}
