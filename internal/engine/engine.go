// Package engine runs generation over a list of packages: local paths or
// remote URLs, each scanned, rendered against the property set and written
// back.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/melih-ucgun/autoconfig/internal/backup"
	"github.com/melih-ucgun/autoconfig/internal/config"
	"github.com/melih-ucgun/autoconfig/internal/core"
	"github.com/melih-ucgun/autoconfig/internal/crypto"
	"github.com/melih-ucgun/autoconfig/internal/entry"
	"github.com/melih-ucgun/autoconfig/internal/generator"
	"github.com/melih-ucgun/autoconfig/internal/props"
	"github.com/melih-ucgun/autoconfig/internal/remote"
	"github.com/melih-ucgun/autoconfig/internal/resource"
)

type Options struct {
	Config *config.Config
	// Output redirects the result of a single package.
	Output        string
	PropertyFiles []string
	// Overrides are k=v assignments that win over every other source.
	Overrides []string
	Logger    core.Logger
	// MasterKey opens encrypted values. Empty means the environment or the
	// key file.
	MasterKey string
}

type openFunc func(ctx context.Context, loc remote.Location, cfg config.RemoteConfig, reveal func(string) (string, error)) (remote.Store, error)

type Runner struct {
	opts      Options
	entryOpts entry.Options
	cipher    *crypto.Cipher
	open      openFunc
	log       core.Logger
}

func NewRunner(opts Options) (*Runner, error) {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Logger == nil {
		opts.Logger = core.NopLogger{}
	}
	cfg := opts.Config

	policy, err := generator.ParseDuplicatePolicy(cfg.DuplicatePolicy)
	if err != nil {
		return nil, core.NewError(core.KindConfig, "duplicate policy", "", err)
	}

	r := &Runner{opts: opts, open: remote.Open, log: opts.Logger}

	key := opts.MasterKey
	if key == "" {
		key, err = crypto.LoadMasterKey()
		if err != nil && !errors.Is(err, crypto.ErrNoMasterKey) {
			return nil, err
		}
	}
	if key != "" {
		if r.cipher, err = crypto.NewCipher(key); err != nil {
			return nil, fmt.Errorf("master key: %w", err)
		}
	}

	r.entryOpts = entry.Options{
		DescriptorPatterns: cfg.Patterns.Descriptors,
		PackagePatterns:    cfg.Patterns.Packages,
		DuplicatePolicy:    policy,
		DefaultCharset:     cfg.Charset,
		Diff:               cfg.Diff,
		ReplaceAttempts:    cfg.Replace.Attempts,
		ReplacePause:       cfg.Replace.Pause,
		Logger:             opts.Logger,
	}
	if cfg.Backup.Enabled {
		m, err := backup.NewManager(cfg.Backup.Dir)
		if err != nil {
			return nil, err
		}
		opts.Logger.Debug("backups enabled", "dir", m.BaseDir, "run", m.RunID)
		r.entryOpts.Backup = m
	}
	return r, nil
}

// Properties builds a fresh property set. Values from the config file rank
// with descriptor defaults but are registered first, so they win over them.
func (r *Runner) Properties() (*props.Set, error) {
	set := props.New().WithCipher(r.cipher)
	for k, v := range r.opts.Config.Properties {
		set.SetDefault(k, v)
	}
	files := append(append([]string{}, r.opts.Config.PropertyFiles...), r.opts.PropertyFiles...)
	for _, f := range files {
		if err := set.LoadFile(f); err != nil {
			return nil, core.NewError(core.KindConfig, "load properties", f, err)
		}
	}
	for _, a := range r.opts.Overrides {
		if err := set.ParseAssignment(a); err != nil {
			return nil, core.NewError(core.KindConfig, "parse property", a, err)
		}
	}
	return set, nil
}

// Run processes the targets one after another and returns one result per
// target. A failing target does not stop the others; only cancellation does.
func (r *Runner) Run(ctx context.Context, targets []string) ([]core.Result, error) {
	if r.opts.Output != "" && len(targets) > 1 {
		return nil, core.NewError(core.KindConfig, "run", r.opts.Output, fmt.Errorf("an output path needs exactly one package"))
	}

	results := make([]core.Result, 0, len(targets))
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, r.runOne(ctx, target))
	}
	return results, ctx.Err()
}

func (r *Runner) runOne(ctx context.Context, target string) core.Result {
	log := r.log.With("package", target)
	if !remote.IsRemote(target) {
		return r.generate(ctx, target, target, r.opts.Output, r.entryOpts, log)
	}

	loc, err := remote.Parse(target)
	if err != nil {
		return core.Failure(target, core.NewError(core.KindConfig, "parse", target, err), "invalid remote location")
	}
	store, err := r.open(ctx, loc, r.opts.Config.Remote, r.reveal)
	if err != nil {
		return core.Failure(target, err, "could not connect")
	}
	defer store.Close()

	work, err := os.MkdirTemp("", "autoconfig-*")
	if err != nil {
		return core.Failure(target, core.WrapIO("create work directory", os.TempDir(), err), "could not prepare work directory")
	}
	defer os.RemoveAll(work)

	log.Info("downloading package")
	local, err := remote.Checkout(ctx, store, loc, work)
	if err != nil {
		return core.Failure(target, err, "download failed")
	}

	// The checkout is deleted after the run, so a backup of it could never
	// be rolled back.
	opts := r.entryOpts
	if opts.Backup != nil {
		log.Warn("backups are not kept for remote packages")
		opts.Backup = nil
	}
	res := r.generate(ctx, target, local, r.opts.Output, opts, log)
	if res.Failed || r.opts.Output != "" {
		return res
	}
	log.Info("publishing package")
	if err := store.Upload(ctx, loc, local); err != nil {
		return core.Failure(target, err, "upload failed")
	}
	return res
}

func (r *Runner) generate(ctx context.Context, name, path, output string, opts entry.Options, log core.Logger) core.Result {
	e, err := openEntry(path, opts)
	if err != nil {
		return core.Failure(name, err, "could not open package")
	}
	if output != "" {
		e.SetOutput(output)
	}
	if err := e.Scan(ctx); err != nil {
		return core.Failure(name, err, "scan failed")
	}

	set, err := r.Properties()
	if err != nil {
		return core.Failure(name, err, "invalid properties")
	}
	files := 0
	err = entry.Walk(e, func(x entry.Entry, _ int) error {
		if gen := x.Generator(); gen != nil {
			for _, d := range gen.Descriptors() {
				set.ApplyDescriptorDefaults(d)
			}
			files += len(gen.Destinations())
		}
		return nil
	})
	if err != nil {
		return core.Failure(name, err, "scan failed")
	}
	if err := set.Check(); err != nil {
		return core.Failure(name, core.NewError(core.KindConfig, "properties", name, err), "encrypted property could not be opened")
	}

	ok, err := e.Generate(ctx, set)
	if err != nil {
		return core.Failure(name, err, "generation failed")
	}
	if !ok {
		log.Warn("generation left unresolved references")
		return core.IncompleteResult(name, fmt.Sprintf("%d files generated, some with unresolved references", files))
	}
	log.Info("generation complete", "files", files)
	return core.SuccessResult(name, fmt.Sprintf("%d files generated", files))
}

// Open returns the unscanned entry for a local package path.
func (r *Runner) Open(path string) (entry.Entry, error) {
	return openEntry(path, r.entryOpts)
}

func openEntry(path string, opts entry.Options) (entry.Entry, error) {
	res, err := resource.FromFile(path)
	if err != nil {
		return nil, core.NewError(core.KindConfig, "open package", path, err)
	}
	return entry.New(res, opts)
}

func (r *Runner) reveal(s string) (string, error) {
	if !crypto.IsEncrypted(s) {
		return s, nil
	}
	if r.cipher == nil {
		return "", crypto.ErrNoMasterKey
	}
	return r.cipher.Decrypt(s)
}
