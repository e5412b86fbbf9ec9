package configsync

import (
	"context"
	"encoding/json"
	"fmt"
)

// fullConfigFile is the last-good complete config document, the
// source for a script rollback (spec.md §6: "rollback/config.json").
const fullConfigFile = "config.json"

// persistRollback saves the just-applied full config and every
// affected section to the rollback directory, recording this cycle as
// the new last-good state (spec.md §4.8's "Persistence of success").
func (s *Sync) persistRollback(payload Payload, raw map[string]json.RawMessage, affected []string) {
	full, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("config sync: marshaling full config for rollback store failed", "error", err)
	} else if err := s.store.writeRollback(fullConfigFile, full); err != nil {
		s.logger.Error("config sync: persisting full rollback config failed", "error", err)
	}

	for _, name := range affected {
		if err := s.store.writeRollback(rollbackFileFor(name), raw[name]); err != nil {
			s.logger.Error("config sync: persisting section rollback copy failed", "section", name, "error", err)
		}
	}
}

// scriptRollback handles a renderer failure: the last-good full
// config is re-applied without restarts, every service affected by
// this cycle is restarted (reported with a "_rollback" suffix), and
// every section's fingerprint is reset so the next cycle re-reads
// from disk (spec.md §4.8).
func (s *Sync) scriptRollback(ctx context.Context, affected []string) error {
	backup, err := s.store.readRollback(fullConfigFile)
	if err != nil {
		return fmt.Errorf("script rollback: no last-good full config available: %w", err)
	}

	var payload Payload
	if err := json.Unmarshal(backup, &payload); err != nil {
		return fmt.Errorf("script rollback: last-good full config is corrupt: %w", err)
	}
	raw := payload.sections()

	for name, data := range raw {
		if err := s.renderer.Render(ctx, name, data); err != nil {
			s.logger.Error("script rollback: re-rendering last-good section failed", "section", name, "error", err)
		}
	}

	var failedRollback []string
	for _, sec := range sectionTable {
		if !toSet(affected)[sec.name] {
			continue
		}
		if err := s.services.Restart(ctx, sec.service); err != nil {
			s.logger.Error("script rollback: service restart failed", "service", sec.service+"_rollback", "error", err)
			failedRollback = append(failedRollback, sec.service+"_rollback")
			continue
		}
		s.logger.Info("script rollback: service restarted", "service", sec.service+"_rollback")
	}

	for _, sec := range sectionTable {
		if err := s.store.resetHash(sec.hashFile); err != nil {
			s.logger.Error("script rollback: resetting fingerprint failed", "section", sec.name, "error", err)
		}
	}

	if len(failedRollback) > 0 {
		return fmt.Errorf("script rollback: services failed to restart: %v", failedRollback)
	}
	return fmt.Errorf("config sync: render failed, script rollback applied for sections %v", affected)
}

// serviceRollback handles a restart failure after a successful render:
// only the failed sections are rolled back to their last-good copy,
// re-rendered, and their owning service restarted; only their
// fingerprints are reset (spec.md §4.8).
func (s *Sync) serviceRollback(ctx context.Context, raw map[string]json.RawMessage, failedSections []string) error {
	var failures []string
	for _, name := range failedSections {
		backup, err := s.store.readRollback(rollbackFileFor(name))
		if err != nil {
			s.logger.Error("service rollback: no last-good section available", "section", name, "error", err)
			failures = append(failures, name)
			continue
		}

		if err := s.renderer.Render(ctx, name, backup); err != nil {
			s.logger.Error("service rollback: re-rendering last-good section failed", "section", name, "error", err)
			failures = append(failures, name)
			continue
		}

		service := serviceFor(name)
		if err := s.services.Restart(ctx, service); err != nil {
			s.logger.Error("service rollback: restart failed", "service", service+"_rollback", "error", err)
			failures = append(failures, name)
			continue
		}
		s.logger.Info("service rollback: service restarted", "service", service+"_rollback")

		if err := s.store.resetHash(hashFileFor(name)); err != nil {
			s.logger.Error("service rollback: resetting fingerprint failed", "section", name, "error", err)
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("config sync: service rollback could not recover sections %v", failures)
	}
	return fmt.Errorf("config sync: service restart failed, service rollback applied for sections %v", failedSections)
}
