// Package machineid derives a stable, anonymized fingerprint of the current
// host for license binding.
package machineid

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/net"
)

// lookupTimeout bounds each hardware identifier lookup.
const lookupTimeout = 5 * time.Second

var errNoIdentifier = errors.New("no usable identifier")

// Source returns a raw hardware identifier. Raw identifiers never leave this
// package; only their digest does.
type Source interface {
	Name() string
	Identifier(ctx context.Context) (string, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc struct {
	Label string
	Fn    func(ctx context.Context) (string, error)
}

// Name implements Source.
func (s SourceFunc) Name() string { return s.Label }

// Identifier implements Source.
func (s SourceFunc) Identifier(ctx context.Context) (string, error) { return s.Fn(ctx) }

// HostIDSource reads the OS machine identifier (machine-id, IOPlatformUUID,
// MachineGuid) through gopsutil.
func HostIDSource() Source {
	return SourceFunc{Label: "host_id", Fn: func(ctx context.Context) (string, error) {
		id, err := host.HostIDWithContext(ctx)
		if err != nil {
			return "", err
		}
		return id, nil
	}}
}

// PrimaryMACSource returns the hardware address of the first interface that is
// up and not a loopback device.
func PrimaryMACSource() Source {
	return SourceFunc{Label: "primary_mac", Fn: func(ctx context.Context) (string, error) {
		interfaces, err := net.InterfacesWithContext(ctx)
		if err != nil {
			return "", err
		}
		for _, iface := range interfaces {
			if iface.HardwareAddr == "" || !hasFlag(iface.Flags, "up") || hasFlag(iface.Flags, "loopback") {
				continue
			}
			return strings.ToLower(iface.HardwareAddr), nil
		}
		return "", errNoIdentifier
	}}
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, want) {
			return true
		}
	}
	return false
}

// DefaultSources returns the identifier sources in preference order.
func DefaultSources() []Source {
	return []Source{HostIDSource(), PrimaryMACSource()}
}

// Fallback builds the platform descriptor used when no hardware identifier is
// available.
func Fallback() string {
	hostname, _ := os.Hostname()
	return runtime.GOOS + "-" + runtime.GOARCH + "-" + hostname
}

// Hash returns the lowercase hex SHA-256 digest of raw.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Provider computes and caches the machine fingerprint.
type Provider struct {
	sources  []Source
	fallback func() string

	mu     sync.Mutex
	cached string
}

// Option configures a Provider.
type Option func(*Provider)

// WithSources replaces the identifier sources.
func WithSources(sources ...Source) Option {
	return func(p *Provider) { p.sources = sources }
}

// WithFallback replaces the fallback descriptor.
func WithFallback(fn func() string) Option {
	return func(p *Provider) { p.fallback = fn }
}

// NewProvider creates a provider using the default sources unless overridden.
func NewProvider(opts ...Option) *Provider {
	p := &Provider{sources: DefaultSources(), fallback: Fallback}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MachineID returns the 64-character fingerprint. It never fails: when every
// source is unavailable the fallback descriptor is hashed instead.
func (p *Provider) MachineID() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached == "" {
		p.cached = Hash(p.raw())
	}
	return p.cached
}

// Reset clears the cached fingerprint.
func (p *Provider) Reset() {
	p.mu.Lock()
	p.cached = ""
	p.mu.Unlock()
}

func (p *Provider) raw() string {
	for _, src := range p.sources {
		id, err := lookup(src)
		if err == nil && strings.TrimSpace(id) != "" {
			return strings.TrimSpace(id)
		}
	}
	return p.fallback()
}

func lookup(src Source) (id string, err error) {
	defer func() {
		if r := recover(); r != nil {
			id, err = "", errNoIdentifier
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	return src.Identifier(ctx)
}

// Default is the process-wide provider.
var Default = NewProvider()

// Get returns the fingerprint from the process-wide provider.
func Get() string {
	return Default.MachineID()
}

// Reset clears the process-wide cache.
func Reset() {
	Default.Reset()
}
