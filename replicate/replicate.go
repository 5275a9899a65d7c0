// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package replicate is the sync orchestrator: for one
// repository it drives the fetch and announce phases until a
// replication target is met or the deadline passes, and reports
// per-seed status either way.
package replicate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/log"
	"go.uber.org/zap"

	"github.com/luxfi/forge/fetch"
	"github.com/luxfi/forge/nodeid"
)

// Mode selects the phases Sync runs.
type Mode string

const (
	ModeFetch    Mode = "fetch"
	ModeAnnounce Mode = "announce"
	ModeBoth     Mode = "both"
)

var (
	ErrTimeout     = errors.New("replicate: timed out")
	ErrUnknownMode = errors.New("replicate: unknown mode")
)

// Report is the structured outcome of one sync run.
type Report struct {
	RID nodeid.RID
	// Fetch carries the per-seed outcomes when a fetch phase ran.
	Fetch *fetch.Report
	// Acknowledged lists peers that echoed our refs hash back during
	// the announce phase.
	Acknowledged []nodeid.NID
	// AlreadyInSync is set when a both-mode run found nothing to
	// announce.
	AlreadyInSync bool
}

// Announcer broadcasts our refs announcement for a repository; backed
// by the gossip reactor's LocalChange injection.
type Announcer interface {
	AnnounceRefs(rid nodeid.RID, refsHash nodeid.ObjectID)
}

// Fetcher is the fetch sub-protocol surface the orchestrator drives;
// satisfied by *fetch.Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, rid nodeid.RID, seeds []nodeid.NID, target int) (fetch.Report, error)
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Fetcher   Fetcher
	Announcer Announcer
	Log       log.Logger
	// Seeds resolves candidate seeds from the routing table.
	Seeds func(rid nodeid.RID) ([]nodeid.NID, error)
	// LocalRefsHash digests our namespace's current sigrefs manifest.
	LocalRefsHash func(rid nodeid.RID) (nodeid.ObjectID, error)
}

// Syncer runs sync operations; safe for concurrent use.
type Syncer struct {
	cfg Config

	mu      sync.Mutex
	waiters map[nodeid.RID][]*ackWaiter
}

type ackWaiter struct {
	refsHash nodeid.ObjectID
	acks     chan nodeid.NID
}

// New constructs a Syncer.
func New(cfg Config) *Syncer {
	if cfg.Log == nil {
		cfg.Log = log.NewNoOpLogger()
	}
	return &Syncer{cfg: cfg, waiters: make(map[nodeid.RID][]*ackWaiter)}
}

// Ack feeds a positive acknowledgment into any waiting announce phase:
// a peer's routing update naming the same refs hash we announced. The
// reactor's sink calls this on every UpdateRouting action.
func (s *Syncer) Ack(rid nodeid.RID, from nodeid.NID, refsHash nodeid.ObjectID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.waiters[rid] {
		if w.refsHash == refsHash {
			select {
			case w.acks <- from:
			default:
			}
		}
	}
}

// Sync drives the requested phases. target is the
// minimum number of seeds that must succeed (fetch) or acknowledge
// (announce); timeout bounds the whole run.
func (s *Syncer) Sync(ctx context.Context, rid nodeid.RID, mode Mode, target int, timeout time.Duration) (Report, error) {
	report := Report{RID: rid}
	if target <= 0 {
		target = 1
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch mode {
	case ModeFetch:
		return s.fetchPhase(ctx, rid, target, report)
	case ModeAnnounce:
		return s.announcePhase(ctx, rid, target, report)
	case ModeBoth:
		before, beforeErr := s.cfg.LocalRefsHash(rid)
		report, err := s.fetchPhase(ctx, rid, target, report)
		if err != nil {
			return report, err
		}
		after, afterErr := s.cfg.LocalRefsHash(rid)
		if beforeErr == nil && afterErr == nil && before == after {
			report.AlreadyInSync = true
		}
		return s.announcePhase(ctx, rid, target, report)
	default:
		return report, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

func (s *Syncer) fetchPhase(ctx context.Context, rid nodeid.RID, target int, report Report) (Report, error) {
	seeds, err := s.cfg.Seeds(rid)
	if err != nil {
		return report, fmt.Errorf("replicate: resolve seeds: %w", err)
	}
	fetchReport, err := s.cfg.Fetcher.Fetch(ctx, rid, seeds, target)
	report.Fetch = &fetchReport
	if err != nil {
		return report, err
	}
	s.cfg.Log.Info("fetch complete",
		zap.Stringer("rid", rid),
		zap.Int("succeeded", len(fetchReport.Succeeded)),
		zap.Int("failed", len(fetchReport.Failed)))
	return report, nil
}

func (s *Syncer) announcePhase(ctx context.Context, rid nodeid.RID, target int, report Report) (Report, error) {
	refsHash, err := s.cfg.LocalRefsHash(rid)
	if err != nil {
		return report, fmt.Errorf("replicate: local refs hash: %w", err)
	}

	w := &ackWaiter{refsHash: refsHash, acks: make(chan nodeid.NID, target)}
	s.mu.Lock()
	s.waiters[rid] = append(s.waiters[rid], w)
	s.mu.Unlock()
	defer s.removeWaiter(rid, w)

	s.cfg.Announcer.AnnounceRefs(rid, refsHash)

	seen := make(map[nodeid.NID]bool)
	for len(report.Acknowledged) < target {
		select {
		case <-ctx.Done():
			return report, fmt.Errorf("%w: %d of %d acknowledgments", ErrTimeout, len(report.Acknowledged), target)
		case nid := <-w.acks:
			if seen[nid] {
				continue
			}
			seen[nid] = true
			report.Acknowledged = append(report.Acknowledged, nid)
		}
	}
	return report, nil
}

func (s *Syncer) removeWaiter(rid nodeid.RID, w *ackWaiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.waiters[rid]
	for i, cand := range list {
		if cand == w {
			s.waiters[rid] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(s.waiters[rid]) == 0 {
		delete(s.waiters, rid)
	}
}
