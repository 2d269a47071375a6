// Package detect implements brute-force login detection. Failures are
// counted per username and per origin in independent TTL windows; crossing
// the threshold on either axis raises a high-severity event and, in protect
// mode, blocks the origin.
package detect

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/sitewarden/sitewarden/internal/audit"
	"github.com/sitewarden/sitewarden/internal/config"
	"github.com/sitewarden/sitewarden/internal/counter"
	"github.com/sitewarden/sitewarden/internal/firewall"
	"github.com/sitewarden/sitewarden/internal/logger"
	"github.com/sitewarden/sitewarden/internal/model"
)

// ModeProtect enables active blocking; any other mode only records events.
const ModeProtect = "protect"

// Detector watches login outcomes for brute-force patterns.
type Detector struct {
	counters counter.Store
	auditLog *audit.Log
	sink     firewall.Sink
	log      *logger.Logger
	cfg      config.DetectionConfig
}

// NewDetector creates a Detector. sink may be nil when no blocking backend
// is configured; protect mode then degrades to logging.
func NewDetector(counters counter.Store, auditLog *audit.Log, sink firewall.Sink, log *logger.Logger, cfg config.DetectionConfig) *Detector {
	return &Detector{
		counters: counters,
		auditLog: auditLog,
		sink:     sink,
		log:      log.WithComponent("detect"),
		cfg:      cfg,
	}
}

// counterKey hashes the identifier so raw usernames and addresses never
// appear as store keys.
func counterKey(kind, identifier string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(identifier)))
	return "failures:" + kind + ":" + hex.EncodeToString(sum[:])
}

// OnLoginFailed records a failed login and evaluates the thresholds.
func (d *Detector) OnLoginFailed(ctx context.Context, username, ip, userAgent string) {
	if !d.cfg.Enabled {
		return
	}

	userCount, err := d.counters.Increment(ctx, counterKey("user", username), d.cfg.UserWindow)
	if err != nil {
		d.log.Error().Err(err).Msg("Failed to increment user failure counter")
	}
	ipCount, err := d.counters.Increment(ctx, counterKey("ip", ip), d.cfg.IPWindow)
	if err != nil {
		d.log.Error().Err(err).Msg("Failed to increment origin failure counter")
	}

	d.auditLog.Record(ctx, audit.Entry{
		EventType: model.EventLoginFailed,
		Severity:  model.SeverityNotice,
		ActorName: &username,
		OriginIP:  ip,
		UserAgent: optional(userAgent),
		Payload: map[string]interface{}{
			"user_failures":   userCount,
			"origin_failures": ipCount,
		},
	})

	highest := userCount
	if ipCount > highest {
		highest = ipCount
	}
	if highest < int64(d.cfg.Threshold) {
		return
	}

	d.auditLog.Record(ctx, audit.Entry{
		EventType: model.EventThresholdExceeded,
		Severity:  model.SeverityBreach,
		ActorName: &username,
		OriginIP:  ip,
		UserAgent: optional(userAgent),
		Payload: map[string]interface{}{
			"user_failures":   userCount,
			"origin_failures": ipCount,
			"threshold":       d.cfg.Threshold,
		},
	})

	if d.cfg.Mode == ModeProtect && d.sink != nil {
		if err := d.sink.Block(ctx, ip, d.cfg.BlockTTL); err != nil {
			d.log.Error().Err(err).Str("origin", ip).Msg("Failed to block origin")
			return
		}
		d.auditLog.Record(ctx, audit.Entry{
			EventType: model.EventOriginBlocked,
			Severity:  model.SeverityBreach,
			OriginIP:  ip,
			Payload: map[string]interface{}{
				"block_ttl": d.cfg.BlockTTL.String(),
			},
		})
	}
}

// OnLoginSucceeded records a successful login and resets both counters. A
// success preceded by failures in the window is recorded at elevated
// severity since it may be the tail of a guessing run.
func (d *Detector) OnLoginSucceeded(ctx context.Context, userID int64, username, ip, userAgent string) {
	if !d.cfg.Enabled {
		return
	}

	userKey := counterKey("user", username)
	ipKey := counterKey("ip", ip)

	priorFailures, err := d.counters.Get(ctx, userKey)
	if err != nil {
		d.log.Error().Err(err).Msg("Failed to read user failure counter")
	}

	severity := model.SeverityInfo
	payload := map[string]interface{}{}
	if priorFailures > 0 {
		severity = model.SeverityHigh
		payload["prior_failures"] = priorFailures
	}

	d.auditLog.Record(ctx, audit.Entry{
		EventType:   model.EventLoginSuccess,
		Severity:    severity,
		ActorUserID: &userID,
		ActorName:   &username,
		OriginIP:    ip,
		UserAgent:   optional(userAgent),
		Payload:     payload,
	})

	if err := d.counters.Clear(ctx, userKey); err != nil {
		d.log.Error().Err(err).Msg("Failed to clear user failure counter")
	}
	if err := d.counters.Clear(ctx, ipKey); err != nil {
		d.log.Error().Err(err).Msg("Failed to clear origin failure counter")
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

