// Package nodedir maps node host names to interconnect node ids.
//
// The table is loaded from a Source on first use and cached for the life of
// the Directory. A failed load caches nothing, so the next call tries again.
package nodedir

import (
	"bytes"
	"context"
	"sync"

	"qsnet-switch/internal/bitmap"
	"qsnet-switch/internal/capability"
	"qsnet-switch/internal/logging"
	"qsnet-switch/internal/qswerr"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/viant/afs"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type Source interface {
	Load(ctx context.Context) (*Table, error)
}

// FileSource reads an elanhosts file from any afs URL (file://, mem://, ...).
type FileSource struct {
	URL string
	fs  afs.Service
}

func NewFileSource(url string, fs afs.Service) *FileSource {
	if fs == nil {
		fs = afs.New()
	}
	return &FileSource{URL: url, fs: fs}
}

func (s *FileSource) Load(ctx context.Context) (*Table, error) {
	data, err := s.fs.DownloadWithURL(ctx, s.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", s.URL)
	}
	return Parse(bytes.NewReader(data))
}

// StaticSource serves a fixed host to id map.
type StaticSource map[string]uint32

func (s StaticSource) Load(context.Context) (*Table, error) {
	return NewTable(s)
}

type Directory struct {
	src    Source
	logger logrus.FieldLogger

	mu    sync.Mutex
	table *Table
}

func New(src Source, logger logrus.FieldLogger) *Directory {
	return &Directory{src: src, logger: logging.OrDefault(logger)}
}

// load returns the cached table, loading it under the directory lock.
func (d *Directory) load(ctx context.Context) (*Table, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.table != nil {
		return d.table, nil
	}
	t, err := d.src.Load(ctx)
	if err != nil {
		d.logger.WithError(err).Warn("Unable to read node directory")
		if !errors.Is(err, qswerr.ErrConfig) {
			err = errors.Mark(err, qswerr.ErrConfig)
		}
		return nil, err
	}
	d.table = t
	d.logger.WithField("nodes", t.Len()).Debug("Node directory loaded")
	return t, nil
}

// MaxNodeID returns the highest node id in the directory.
func (d *Directory) MaxNodeID(ctx context.Context) (uint32, error) {
	t, err := d.load(ctx)
	if err != nil {
		return 0, err
	}
	id, ok := t.MaxID()
	if !ok {
		return 0, errors.Mark(errors.New("node directory is empty"), qswerr.ErrConfig)
	}
	return id, nil
}

// IDForHost accepts the name of any adapter type.
func (d *Directory) IDForHost(ctx context.Context, host string) (uint32, error) {
	t, err := d.load(ctx)
	if err != nil {
		return 0, err
	}
	id, ok := t.ID(host)
	if !ok {
		return 0, errors.Wrapf(qswerr.ErrNotFound, "host %s", host)
	}
	return id, nil
}

// HostForID returns the eip name of node id.
func (d *Directory) HostForID(ctx context.Context, id uint32) (string, error) {
	t, err := d.load(ctx)
	if err != nil {
		return "", err
	}
	h, ok := t.Host(id, AdapterEIP)
	if !ok {
		return "", errors.Wrapf(qswerr.ErrNotFound, "node id %d", id)
	}
	return h, nil
}

// NodeSet resolves hosts into a node bitmap suitable for capability.Builder.
func (d *Directory) NodeSet(ctx context.Context, hosts []string) (*bitmap.Bitmap, error) {
	set := bitmap.New(capability.MaxVPs)
	for _, h := range hosts {
		id, err := d.IDForHost(ctx, h)
		if err != nil {
			return nil, err
		}
		if id >= capability.MaxVPs {
			return nil, qswerr.Invalidf("host %s has node id %d, limit is %d", h, id, capability.MaxVPs-1)
		}
		set.Set(int(id))
	}
	return set, nil
}

// Hosts returns every known adapter name, sorted.
func (d *Directory) Hosts(ctx context.Context) ([]string, error) {
	t, err := d.load(ctx)
	if err != nil {
		return nil, err
	}
	names := maps.Keys(t.ids)
	slices.Sort(names)
	return names, nil
}
