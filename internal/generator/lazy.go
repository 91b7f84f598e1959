package generator

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/melih-ucgun/autoconfig/internal/core"
	"github.com/melih-ucgun/autoconfig/internal/descriptor"
)

// LazyItem is a template that is also a destination. Its bytes are kept,
// compressed, until the whole package has been seen.
type LazyItem struct {
	Name  string
	Rules []*descriptor.GenerateRule

	snapshot []byte
	size     int
}

// Size is the uncompressed length of the template.
func (l *LazyItem) Size() int { return l.size }

var (
	snapshotEncoder = must(zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest)))
	snapshotDecoder = must(zstd.NewReader(nil))
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(fmt.Sprintf("zstd: %v", err))
	}
	return v
}

// AddLazyItem snapshots data for template name.
func (s *Session) AddLazyItem(name string, data []byte) error {
	if s.closed {
		return core.NewError(core.KindState, "add lazy item", name, core.ErrSessionClosed)
	}
	item := &LazyItem{
		Name:     name,
		Rules:    s.gen.Rules(name),
		snapshot: snapshotEncoder.EncodeAll(data, nil),
		size:     len(data),
	}
	s.lazy = append(s.lazy, item)
	s.opts.Logger.Trace("deferred template", "template", name, "size", item.size, "compressed", len(item.snapshot))
	return nil
}

// LazyItems returns the deferred templates in the order they were added.
func (s *Session) LazyItems() []*LazyItem { return s.lazy }

// GenerateLazyItems renders every deferred rule whose destination the main
// pass did not produce. Before rendering, the template is copied verbatim to
// its qualified path unless that path is a destination or was already
// written.
func (s *Session) GenerateLazyItems(cb Callback) (bool, error) {
	if s.closed {
		return false, core.NewError(core.KindState, "generate lazy items", "", core.ErrSessionClosed)
	}
	ok := true
	for _, item := range s.lazy {
		data, err := snapshotDecoder.DecodeAll(item.snapshot, make([]byte, 0, item.size))
		if err != nil {
			return false, core.NewError(core.KindIO, "restore lazy item", item.Name, fmt.Errorf("zstd: %w", err))
		}
		src := WithSource(cb, data)

		for _, rule := range item.Rules {
			if s.IsProcessed(rule.Destfile) {
				continue
			}
			if err := s.copyTemplate(rule, data, cb); err != nil {
				return false, err
			}
			ruleOK, err := s.generateRule(rule, src)
			if err != nil {
				return false, err
			}
			ok = ok && ruleOK
		}
	}
	return ok, nil
}

func (s *Session) copyTemplate(rule *descriptor.GenerateRule, data []byte, cb Callback) error {
	name := rule.QualifiedTemplate
	if name == rule.Destfile || s.gen.IsDestFile(name) {
		return nil
	}
	if _, done := s.copied[name]; done {
		return nil
	}
	if err := cb.CopyTemplate(name, data); err != nil {
		return core.WrapIO("copy template", name, err)
	}
	s.copied[name] = struct{}{}
	return nil
}
