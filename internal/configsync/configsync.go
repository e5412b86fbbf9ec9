// Package configsync implements the config-sync core (spec.md §4.8,
// C12): pull the remote config document, fingerprint each of its
// sections, render changed sections into UCI settings, restart the
// services those sections govern in a fixed order, and roll back
// cleanly when either the render or a restart fails.
//
// Grounded on internal/reconciler's drift-tracking shape (track what
// changed, act only on the delta, keep a tracker of in-flight state)
// generalized from Kubernetes pod specs to named config sections.
package configsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"wayru-agent/internal/httpclient"
)

// restartSettlePause is the fixed pause between successive service
// restarts during an apply (spec.md §4.8: "1-2s settling pauses").
const restartSettlePause = 1500 * time.Millisecond

// section describes one named config subtree: where its persisted
// fingerprint and rollback copy live, and which service restart it
// triggers when affected.
type section struct {
	name         string
	hashFile     string
	rollbackFile string
	service      string
}

// sectionTable is both the restart order (spec.md §4.8: "wifi reload
// → opennds → wayru-collector → wayru-agent → wayru-config") and the
// full list of recognised sections.
var sectionTable = []section{
	{name: "wireless", hashFile: "wireless.hash", rollbackFile: "wireless_config.json", service: "wifi"},
	{name: "opennds", hashFile: "opennds.hash", rollbackFile: "opennds_config.json", service: "opennds"},
	{name: "wayru-collector", hashFile: "wayru-collector.hash", rollbackFile: "collector_config.json", service: "wayru-collector"},
	{name: "wayru-agent", hashFile: "wayru-agent.hash", rollbackFile: "agent_config.json", service: "wayru-agent"},
	{name: "wayru-config", hashFile: "wayru-config.hash", rollbackFile: "config_config.json", service: "wayru-config"},
}

// Payload is the remote config document's wire shape.
type Payload struct {
	Wireless json.RawMessage       `json:"wireless"`
	OpenNDS  json.RawMessage       `json:"opennds"`
	Wayru    []wayruServiceSection `json:"wayru"`
}

type wayruServiceSection struct {
	MetaConfig string          `json:"meta_config"`
	Config     json.RawMessage `json:"config"`
}

// sections flattens Payload into the section-name keyed raw JSON map
// the rest of this package operates on.
func (p Payload) sections() map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(sectionTable))
	if len(p.Wireless) > 0 {
		out["wireless"] = p.Wireless
	}
	if len(p.OpenNDS) > 0 {
		out["opennds"] = p.OpenNDS
	}
	for _, w := range p.Wayru {
		out[w.MetaConfig] = w.Config
	}
	return out
}

// Renderer translates a section's JSON into UCI settings without
// restarting any service. An external collaborator (spec.md §6); no
// pack library models UCI rendering, so this stays an interface the
// binary wires to a real implementation.
type Renderer interface {
	Render(ctx context.Context, section string, payload json.RawMessage) error
}

// ServiceController restarts (or, for wireless, reloads) the named
// service. Another external collaborator boundary: actually talking
// to a service manager is out of scope.
type ServiceController interface {
	Restart(ctx context.Context, service string) error
}

// TokenProvider supplies the bearer token config-sync authenticates
// outbound pulls with. The standalone config-sync binary wires the
// IPC token-manager client (ipcclient.Client); the agent binary does
// not run config sync.
type TokenProvider interface {
	CurrentToken() (token string, valid bool)
}

// Store persists section fingerprints and rollback copies under a
// hash directory and a rollback directory (spec.md §6).
type Store struct {
	hashDir     string
	rollbackDir string
}

// NewStore returns a Store rooted at the given directories. Both must
// already exist.
func NewStore(hashDir, rollbackDir string) *Store {
	return &Store{hashDir: hashDir, rollbackDir: rollbackDir}
}

// Sync owns one config-sync cycle: pull, fingerprint, render, restart,
// rollback.
type Sync struct {
	http     *httpclient.Client
	tokens   TokenProvider
	renderer Renderer
	services ServiceController
	store    *Store
	logger   *slog.Logger
	path     string

	// restartPause is the settling pause between successive service
	// restarts; defaults to restartSettlePause, overridable by tests.
	restartPause time.Duration
}

// New constructs a Sync. path is the configured pull endpoint,
// relative to http's base URL.
func New(http *httpclient.Client, tokens TokenProvider, renderer Renderer, services ServiceController, store *Store, logger *slog.Logger, path string) *Sync {
	return &Sync{
		http:         http,
		tokens:       tokens,
		renderer:     renderer,
		services:     services,
		store:        store,
		logger:       logger,
		path:         path,
		restartPause: restartSettlePause,
	}
}

// Tick is the scheduler task body for one config-sync cycle.
func (s *Sync) Tick(ctx context.Context) {
	if err := s.Run(ctx); err != nil {
		s.logger.Warn("config sync cycle failed", "error", err)
	}
}

// Run performs one full config-sync cycle (spec.md §4.8).
func (s *Sync) Run(ctx context.Context) error {
	token, valid := s.tokens.CurrentToken()
	if !valid {
		s.logger.Debug("config sync skipped: no valid access token")
		return nil
	}
	s.http.SetToken(token)

	var payload Payload
	if err := s.http.GetJSON(ctx, s.path, &payload); err != nil {
		return fmt.Errorf("pulling config: %w", err)
	}
	raw := payload.sections()

	affected := s.affectedSections(raw)
	if len(affected) == 0 {
		s.logger.Debug("config sync: no section changed")
		return nil
	}
	s.logger.Info("config sync: sections changed", "sections", affected)

	for _, name := range affected {
		if err := s.renderer.Render(ctx, name, raw[name]); err != nil {
			s.logger.Error("config sync: render failed, performing script rollback", "section", name, "error", err)
			return s.scriptRollback(ctx, affected)
		}
	}

	for _, name := range affected {
		if err := s.store.writeHash(hashFileFor(name), fingerprint(raw[name])); err != nil {
			return fmt.Errorf("persisting fingerprint for %s: %w", name, err)
		}
	}

	failed := s.restartAffected(ctx, affected)
	if len(failed) > 0 {
		return s.serviceRollback(ctx, raw, failed)
	}

	s.persistRollback(payload, raw, affected)
	return nil
}

// affectedSections returns the names, in section-table order, of
// every section whose fingerprint differs from its persisted value.
func (s *Sync) affectedSections(raw map[string]json.RawMessage) []string {
	var affected []string
	for _, sec := range sectionTable {
		data, ok := raw[sec.name]
		if !ok {
			continue
		}
		want := fingerprint(data)
		got, _ := s.store.readHash(sec.hashFile)
		if want != got {
			affected = append(affected, sec.name)
		}
	}
	return affected
}

// restartAffected restarts every affected service in the global
// strict order, pausing between each, and returns the names of
// sections whose service restart failed.
func (s *Sync) restartAffected(ctx context.Context, affected []string) []string {
	affectedSet := toSet(affected)
	var failed []string
	for _, sec := range sectionTable {
		if !affectedSet[sec.name] {
			continue
		}
		if err := s.services.Restart(ctx, sec.service); err != nil {
			s.logger.Error("config sync: service restart failed", "service", sec.service, "error", err)
			failed = append(failed, sec.name)
		} else {
			s.logger.Info("config sync: service restarted", "service", sec.service)
		}
		select {
		case <-ctx.Done():
			return failed
		case <-time.After(s.restartPause):
		}
	}
	return failed
}

func toSet(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func hashFileFor(name string) string {
	for _, sec := range sectionTable {
		if sec.name == name {
			return sec.hashFile
		}
	}
	return name + ".hash"
}

func rollbackFileFor(name string) string {
	for _, sec := range sectionTable {
		if sec.name == name {
			return sec.rollbackFile
		}
	}
	return name + "_config.json"
}

func serviceFor(name string) string {
	for _, sec := range sectionTable {
		if sec.name == name {
			return sec.service
		}
	}
	return name
}
