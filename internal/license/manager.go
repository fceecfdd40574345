package license

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/filecoin-project/go-clock"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultRevalidateSchedule re-checks the stored license hourly.
const DefaultRevalidateSchedule = "@every 1h"

// Store persists the license blob and the original install date.
// Load methods return ErrNotFound when nothing has been saved.
type Store interface {
	LoadLicense(ctx context.Context) ([]byte, error)
	SaveLicense(ctx context.Context, data []byte) error
	LoadInstallDate(ctx context.Context) (time.Time, error)
	SaveInstallDate(ctx context.Context, t time.Time) error
}

// ManagerConfig holds configuration for the license manager.
type ManagerConfig struct {
	Store     Store
	Validator *Validator
	Trial     *TrialIssuer
	Machine   MachineIDSource
	Clock     clock.Clock
	Logger    zerolog.Logger
	// OnResult is called after every scheduled or explicit check.
	OnResult func(ValidationResult)
}

// Manager ties the validator, trial issuer and persistence together for the
// running application: first-run trial issuance, activation of pasted
// licenses and periodic re-validation.
type Manager struct {
	store     Store
	validator *Validator
	trial     *TrialIssuer
	machine   MachineIDSource
	clock     clock.Clock
	logger    zerolog.Logger
	onResult  func(ValidationResult)

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
	last    *ValidationResult
}

// NewManager creates a license manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("license store is required")
	}
	if cfg.Validator == nil {
		return nil, errors.New("license validator is required")
	}
	if cfg.Machine == nil {
		return nil, errors.New("machine identity source is required")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	trial := cfg.Trial
	if trial == nil {
		t, err := NewTrialIssuer(TrialIssuerConfig{Clock: clk})
		if err != nil {
			return nil, fmt.Errorf("create trial issuer: %w", err)
		}
		trial = t
	}
	return &Manager{
		store:     cfg.Store,
		validator: cfg.Validator,
		trial:     trial,
		machine:   cfg.Machine,
		clock:     clk,
		logger:    cfg.Logger.With().Str("component", "license_manager").Logger(),
		onResult:  cfg.OnResult,
		cron:      cron.New(),
	}, nil
}

// MachineID returns the current host fingerprint.
func (m *Manager) MachineID() string {
	return m.machine.MachineID()
}

// License returns the stored license blob.
func (m *Manager) License(ctx context.Context) ([]byte, error) {
	return m.store.LoadLicense(ctx)
}

// InitializeTrial issues a trial on first run. It does nothing when a license
// is already stored. The trial starts at the persisted install date, which is
// recorded on the first call.
func (m *Manager) InitializeTrial(ctx context.Context) (bool, error) {
	if _, err := m.store.LoadLicense(ctx); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return false, fmt.Errorf("load license: %w", err)
	}

	installed, err := m.store.LoadInstallDate(ctx)
	if errors.Is(err, ErrNotFound) {
		installed = m.clock.Now().UTC()
		if err := m.store.SaveInstallDate(ctx, installed); err != nil {
			return false, fmt.Errorf("save install date: %w", err)
		}
		m.logger.Info().Time("install_date", installed).Msg("recorded install date")
	} else if err != nil {
		return false, fmt.Errorf("load install date: %w", err)
	}

	doc, err := m.trial.CreateTrialLicense(m.machine.MachineID(), "", installed)
	if err != nil {
		return false, fmt.Errorf("create trial license: %w", err)
	}
	if err := m.save(ctx, doc); err != nil {
		return false, err
	}

	m.logger.Info().
		Time("issued_at", doc.IssuedAt).
		Time("expires_at", doc.ExpiresAt).
		Msg("trial license created")
	return true, nil
}

// Check validates the stored license and records the result.
func (m *Manager) Check(ctx context.Context) ValidationResult {
	data, err := m.store.LoadLicense(ctx)
	var result ValidationResult
	switch {
	case errors.Is(err, ErrNotFound):
		result = Invalid(ReasonFormat)
		result.Message = "No license found"
	case err != nil:
		m.logger.Error().Err(err).Msg("failed to load license")
		result = Invalid(ReasonInternal)
	default:
		result = m.validator.ValidateJSON(data, ValidateOptions{})
	}
	m.record(result)
	return result
}

// Activate validates a license supplied by the user and stores it only if it
// is valid for this machine. The returned error reports storage failures.
func (m *Manager) Activate(ctx context.Context, data []byte) (ValidationResult, error) {
	result := m.validator.ValidateJSON(data, ValidateOptions{})
	if !result.Valid {
		m.logger.Warn().Str("reason", string(result.Reason)).Msg("license activation rejected")
		return result, nil
	}
	if err := m.save(ctx, result.License); err != nil {
		return result, err
	}
	m.logger.Info().
		Str("tier", string(result.License.Tier)).
		Str("type", string(result.License.Type)).
		Int("days_remaining", result.DaysRemaining).
		Msg("license activated")
	m.record(result)
	return result, nil
}

// LastResult returns the most recent check result, if any.
func (m *Manager) LastResult() (ValidationResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return ValidationResult{}, false
	}
	return *m.last, true
}

// Features returns the entitlements of the last valid license, or the trial
// set when no valid license has been seen.
func (m *Manager) Features() TierFeatureSet {
	res, ok := m.LastResult()
	if !ok || !res.Valid || res.License == nil {
		return GetFeatures(TierTrial)
	}
	return GetFeatures(res.License.Tier)
}

// Start begins periodic re-validation on a cron schedule.
func (m *Manager) Start(schedule string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return errors.New("license manager already running")
	}
	if schedule == "" {
		schedule = DefaultRevalidateSchedule
	}

	if _, err := m.cron.AddFunc(schedule, m.runCheck); err != nil {
		return fmt.Errorf("schedule license check %q: %w", schedule, err)
	}

	m.cron.Start()
	m.running = true

	m.logger.Info().Str("schedule", schedule).Msg("license revalidation started")
	return nil
}

// Stop stops periodic re-validation. The returned context is done once any
// in-flight check finishes.
func (m *Manager) Stop() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	m.running = false
	m.logger.Info().Msg("stopping license revalidation")
	return m.cron.Stop()
}

// RunNow triggers an immediate scheduled check.
func (m *Manager) RunNow() {
	m.runCheck()
}

func (m *Manager) runCheck() {
	result := m.Check(context.Background())
	if result.Valid {
		ev := m.logger.Info()
		if result.IsExpiringSoon {
			ev = m.logger.Warn().Bool("final_warning", result.IsExpiringSoonFinal)
		}
		ev.Int("days_remaining", result.DaysRemaining).Msg("license check completed")
		return
	}
	m.logger.Warn().Str("reason", string(result.Reason)).Msg("license check failed")
}

func (m *Manager) record(result ValidationResult) {
	m.mu.Lock()
	r := result
	m.last = &r
	cb := m.onResult
	m.mu.Unlock()

	if cb != nil {
		cb(result)
	}
}

func (m *Manager) save(ctx context.Context, doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal license: %w", err)
	}
	if err := m.store.SaveLicense(ctx, data); err != nil {
		return fmt.Errorf("save license: %w", err)
	}
	return nil
}
