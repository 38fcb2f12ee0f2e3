// Package snapshot archives the complete ledger state (activities, tickets,
// balances and ticket ownership) to object storage and restores the newest
// archive at startup.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/easybet/internal/bank"
	"github.com/alanyoungcy/easybet/internal/domain"
	"github.com/alanyoungcy/easybet/internal/ledger"
	"github.com/alanyoungcy/easybet/internal/registry"
)

const formatVersion = 1

// State is one archived document.
type State struct {
	Version  int             `json:"version"`
	TakenAt  time.Time       `json:"taken_at"`
	Ledger   ledger.Snapshot `json:"ledger"`
	Bank     bank.State      `json:"bank"`
	Registry registry.State  `json:"registry"`
}

// Config controls archiving.
type Config struct {
	Prefix   string
	Interval time.Duration
	// Keep is how many archives survive pruning; zero keeps everything.
	Keep int
	// MultipartThreshold switches uploads above this size to multipart.
	MultipartThreshold int64
	PartSize           int64
}

// Blobs is the object storage the archiver needs.
type Blobs interface {
	domain.BlobWriter
	domain.BlobReader
	domain.BlobDeleter
}

// Archiver captures and stores snapshots.
type Archiver struct {
	cfg      Config
	ledger   *ledger.Ledger
	bank     *bank.Bank
	registry *registry.Registry
	blobs    Blobs
	clock    domain.Clock
	logger   *slog.Logger

	lastSeq uint64
	saved   bool
}

// NewArchiver creates an Archiver.
func NewArchiver(cfg Config, l *ledger.Ledger, b *bank.Bank, r *registry.Registry, blobs Blobs, clock domain.Clock, logger *slog.Logger) *Archiver {
	if cfg.Prefix == "" {
		cfg.Prefix = "snapshots"
	}
	cfg.Prefix = strings.TrimSuffix(cfg.Prefix, "/")
	if clock == nil {
		clock = domain.SystemClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		cfg:      cfg,
		ledger:   l,
		bank:     b,
		registry: r,
		blobs:    blobs,
		clock:    clock,
		logger:   logger.With(slog.String("component", "snapshot")),
	}
}

// Capture copies the ledger, bank and registry at one consistent point.
func (a *Archiver) Capture() State {
	var bs bank.State
	var rs registry.State
	ls := a.ledger.ExportWith(func() {
		bs = a.bank.Export()
		rs = a.registry.Export()
	})
	return State{
		Version:  formatVersion,
		TakenAt:  a.clock.Now().UTC(),
		Ledger:   ls,
		Bank:     bs,
		Registry: rs,
	}
}

// Save captures and uploads a snapshot, returning its object path.
func (a *Archiver) Save(ctx context.Context) (string, error) {
	st := a.Capture()
	data, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("snapshot: marshal: %w", err)
	}

	p := fmt.Sprintf("%s/%d-%s.json", a.cfg.Prefix, st.TakenAt.Unix(), uuid.NewString())
	if a.cfg.MultipartThreshold > 0 && int64(len(data)) > a.cfg.MultipartThreshold {
		err = a.blobs.PutMultipart(ctx, p, bytes.NewReader(data), a.cfg.PartSize)
	} else {
		err = a.blobs.Put(ctx, p, bytes.NewReader(data), "application/json")
	}
	if err != nil {
		return "", fmt.Errorf("snapshot: upload %s: %w", p, err)
	}

	a.lastSeq = st.Ledger.Seq
	a.saved = true
	a.logger.InfoContext(ctx, "snapshot: saved",
		slog.String("path", p),
		slog.Uint64("seq", st.Ledger.Seq),
		slog.Int("bytes", len(data)),
	)
	a.prune(ctx)
	return p, nil
}

// Run saves every Interval when the ledger has moved, and once more when
// ctx ends.
func (a *Archiver) Run(ctx context.Context) error {
	if a.cfg.Interval <= 0 {
		<-ctx.Done()
		return a.final(ctx)
	}
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return a.final(ctx)
		case <-ticker.C:
			if a.saved && a.ledger.Seq() == a.lastSeq {
				continue
			}
			if _, err := a.Save(ctx); err != nil {
				a.logger.ErrorContext(ctx, "snapshot: periodic save failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (a *Archiver) final(ctx context.Context) error {
	if a.saved && a.ledger.Seq() == a.lastSeq {
		return nil
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if _, err := a.Save(sctx); err != nil {
		return fmt.Errorf("snapshot: final save: %w", err)
	}
	return nil
}

// Restore loads the newest snapshot into the empty ledger, bank and
// registry. It reports false when no snapshot exists.
func (a *Archiver) Restore(ctx context.Context) (bool, error) {
	paths, err := a.archives(ctx)
	if err != nil {
		return false, err
	}
	if len(paths) == 0 {
		return false, nil
	}
	latest := paths[len(paths)-1]

	rc, err := a.blobs.Get(ctx, latest)
	if err != nil {
		return false, fmt.Errorf("snapshot: open %s: %w", latest, err)
	}
	defer rc.Close()

	var st State
	if err := json.NewDecoder(rc).Decode(&st); err != nil {
		return false, fmt.Errorf("snapshot: decode %s: %w", latest, err)
	}
	if err := Apply(ctx, st, a.ledger, a.bank, a.registry); err != nil {
		return false, fmt.Errorf("snapshot: apply %s: %w", latest, err)
	}

	a.lastSeq = st.Ledger.Seq
	a.saved = true
	a.logger.InfoContext(ctx, "snapshot: restored",
		slog.String("path", latest),
		slog.Uint64("seq", st.Ledger.Seq),
		slog.Time("taken_at", st.TakenAt),
	)
	return true, nil
}

// Apply loads st into fresh components and checks that escrow holds exactly
// what the restored ledger owes.
func Apply(ctx context.Context, st State, l *ledger.Ledger, b *bank.Bank, r *registry.Registry) error {
	if st.Version != formatVersion {
		return fmt.Errorf("unsupported snapshot version %d", st.Version)
	}
	if err := r.Import(st.Registry); err != nil {
		return err
	}
	if err := b.Import(st.Bank); err != nil {
		return err
	}
	if err := l.Restore(st.Ledger); err != nil {
		return err
	}
	held, err := b.BalanceOf(ctx, l.Escrow())
	if err != nil {
		return err
	}
	if owed := l.Liabilities(); held.Cmp(owed) != 0 {
		return fmt.Errorf("escrow holds %s but the ledger owes %s", held, owed)
	}
	return nil
}

// archives lists snapshot paths oldest first.
func (a *Archiver) archives(ctx context.Context) ([]string, error) {
	infos, err := a.blobs.List(ctx, a.cfg.Prefix+"/")
	if err != nil {
		return nil, fmt.Errorf("snapshot: list: %w", err)
	}
	type entry struct {
		unix int64
		path string
	}
	var entries []entry
	for _, info := range infos {
		base := path.Base(info.Path)
		stamp, _, ok := strings.Cut(strings.TrimSuffix(base, ".json"), "-")
		if !ok || !strings.HasSuffix(base, ".json") {
			continue
		}
		unix, err := strconv.ParseInt(stamp, 10, 64)
		if err != nil {
			continue
		}
		entries = append(entries, entry{unix: unix, path: info.Path})
	}
	slices.SortFunc(entries, func(x, y entry) int {
		if x.unix != y.unix {
			return int(x.unix - y.unix)
		}
		return strings.Compare(x.path, y.path)
	})
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.path
	}
	return out, nil
}

func (a *Archiver) prune(ctx context.Context) {
	if a.cfg.Keep <= 0 {
		return
	}
	paths, err := a.archives(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "snapshot: prune list failed", slog.String("error", err.Error()))
		return
	}
	if len(paths) <= a.cfg.Keep {
		return
	}
	var errs []error
	for _, p := range paths[:len(paths)-a.cfg.Keep] {
		if err := a.blobs.Delete(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.WarnContext(ctx, "snapshot: prune failed", slog.String("error", err.Error()))
	}
}
