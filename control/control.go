// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package control exposes the local control-plane endpoint: a stream
// socket speaking line-delimited JSON records, one
// request per line, any number of output records followed by an exit
// record. The command facade's exit kinds are fixed numbers so shell
// front-ends can dispatch on them.
package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/luxfi/log"
	"go.uber.org/zap"

	"github.com/luxfi/forge/crypto"
	"github.com/luxfi/forge/fetch"
	"github.com/luxfi/forge/nodeid"
	"github.com/luxfi/forge/policy"
	"github.com/luxfi/forge/replicate"
	"github.com/luxfi/forge/sigrefs"
)

// Exit codes.
const (
	ExitOK int = iota
	ExitNotConnected
	ExitRepoNotSeeded
	ExitNoCandidateSeeds
	ExitQuorumUnreachable
	ExitSignatureInvalid
	ExitTimeout
	ExitError // unclassified failure
)

// Request is one line-delimited command record.
type Request struct {
	Command string            `json:"command"`
	Args    map[string]string `json:"args,omitempty"`
}

// Record is one output line.
type Record map[string]interface{}

// exitRecord terminates every response stream.
type exitRecord struct {
	Exit  int    `json:"exit"`
	Error string `json:"error,omitempty"`
}

// Node is the daemon surface the control plane drives.
type Node interface {
	Status() Record
	Inventory() ([]nodeid.RID, error)
	Seed(rid nodeid.RID, scope policy.Scope) error
	Unseed(rid nodeid.RID) error
	BlockRepo(rid nodeid.RID) error
	Follow(nid nodeid.NID, alias string) error
	Unfollow(nid nodeid.NID) error
	BlockNode(nid nodeid.NID) error
	Sync(ctx context.Context, rid nodeid.RID, mode replicate.Mode, target int, timeout time.Duration) (replicate.Report, error)
	AnnounceRefs(rid nodeid.RID) error
}

// Server serves the control socket.
type Server struct {
	node Node
	log  log.Logger
}

// New constructs a Server around the daemon surface.
func New(node Node, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &Server{node: node, log: logger}
}

// Serve accepts connections until ctx is cancelled. Callers pass a unix
// domain socket listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("control: accept: %w", err)
		}
		go s.handle(ctx, conn)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			enc.Encode(exitRecord{Exit: ExitError, Error: "malformed request"})
			continue
		}
		records, exit := s.dispatch(ctx, req)
		for _, r := range records {
			enc.Encode(r)
		}
		enc.Encode(exit)
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) ([]Record, exitRecord) {
	s.log.Debug("control command", zap.String("command", req.Command))
	switch req.Command {
	case "status":
		return []Record{s.node.Status()}, exitRecord{Exit: ExitOK}

	case "inventory":
		rids, err := s.node.Inventory()
		if err != nil {
			return nil, failure(err)
		}
		records := make([]Record, 0, len(rids))
		for _, rid := range rids {
			records = append(records, Record{"rid": rid.String()})
		}
		return records, exitRecord{Exit: ExitOK}

	case "seed":
		rid, err := argRID(req)
		if err != nil {
			return nil, failure(err)
		}
		scope := policy.ScopeAll
		if v, ok := req.Args["scope"]; ok {
			scope = policy.Scope(v)
		}
		return nil, result(s.node.Seed(rid, scope))

	case "unseed":
		rid, err := argRID(req)
		if err != nil {
			return nil, failure(err)
		}
		return nil, result(s.node.Unseed(rid))

	case "block":
		rid, err := argRID(req)
		if err != nil {
			return nil, failure(err)
		}
		return nil, result(s.node.BlockRepo(rid))

	case "unblock":
		rid, err := argRID(req)
		if err != nil {
			return nil, failure(err)
		}
		return nil, result(s.node.Unseed(rid))

	case "follow":
		nid, err := argNID(req)
		if err != nil {
			return nil, failure(err)
		}
		return nil, result(s.node.Follow(nid, req.Args["alias"]))

	case "unfollow":
		nid, err := argNID(req)
		if err != nil {
			return nil, failure(err)
		}
		return nil, result(s.node.Unfollow(nid))

	case "sync":
		rid, err := argRID(req)
		if err != nil {
			return nil, failure(err)
		}
		mode := replicate.ModeBoth
		if v, ok := req.Args["mode"]; ok {
			mode = replicate.Mode(v)
		}
		target := 1
		if v, ok := req.Args["target"]; ok {
			fmt.Sscanf(v, "%d", &target)
		}
		timeout := time.Minute
		if v, ok := req.Args["timeout"]; ok {
			if d, perr := time.ParseDuration(v); perr == nil {
				timeout = d
			}
		}
		report, err := s.node.Sync(ctx, rid, mode, target, timeout)
		records := syncRecords(report)
		if err != nil {
			return records, failure(err)
		}
		return records, exitRecord{Exit: ExitOK}

	case "announce-refs":
		rid, err := argRID(req)
		if err != nil {
			return nil, failure(err)
		}
		return nil, result(s.node.AnnounceRefs(rid))

	default:
		return nil, exitRecord{Exit: ExitError, Error: fmt.Sprintf("unknown command %q", req.Command)}
	}
}

func syncRecords(report replicate.Report) []Record {
	var records []Record
	if report.Fetch != nil {
		for _, seed := range report.Fetch.Succeeded {
			records = append(records, Record{"seed": seed.Seed.String(), "status": "ok", "namespaces": len(seed.Namespaces)})
		}
		for _, seed := range report.Fetch.Failed {
			records = append(records, Record{"seed": seed.Seed.String(), "status": "failed", "reason": fmt.Sprint(seed.Err)})
		}
		for _, w := range report.Fetch.Warnings {
			records = append(records, Record{"warning": w})
		}
	}
	for _, nid := range report.Acknowledged {
		records = append(records, Record{"acknowledged": nid.String()})
	}
	if report.AlreadyInSync {
		records = append(records, Record{"status": "already in sync"})
	}
	return records
}

func argRID(req Request) (nodeid.RID, error) {
	v, ok := req.Args["rid"]
	if !ok {
		return nodeid.RID{}, errors.New("control: missing rid argument")
	}
	return nodeid.ParseRID(v)
}

func argNID(req Request) (nodeid.NID, error) {
	v, ok := req.Args["nid"]
	if !ok {
		return nodeid.NID{}, errors.New("control: missing nid argument")
	}
	return nodeid.ParseNID(v)
}

func result(err error) exitRecord {
	if err != nil {
		return failure(err)
	}
	return exitRecord{Exit: ExitOK}
}

// failure maps an error chain to the command facade's exit kinds.
func failure(err error) exitRecord {
	exit := ExitError
	switch {
	case errors.Is(err, fetch.ErrNoCandidateSeeds):
		exit = ExitNoCandidateSeeds
	case errors.Is(err, replicate.ErrTimeout):
		exit = ExitTimeout
	case errors.Is(err, fetch.ErrSeedTimeout):
		exit = ExitTimeout
	case errors.Is(err, crypto.ErrSignatureInvalid), errors.Is(err, sigrefs.ErrSignatureInvalid):
		exit = ExitSignatureInvalid
	case errors.Is(err, policy.ErrPolicyBlocked):
		exit = ExitRepoNotSeeded
	}
	return exitRecord{Exit: exit, Error: err.Error()}
}
