package sandbox

import (
	"context"
	"time"

	"github.com/tetratelabs/wazero"
)

// Config defines sandbox configuration
type Config struct {
	Timeout       time.Duration    // Wall-clock budget for a whole session
	EntryModule   string           // Module id holding the signer
	ExportName    string           // Export that produces the signature
	ChunkGlobals  []string         // Bundler chunk arrays to observe
	EnableConsole bool             // Forward console output to the logger
	MaxCallStack  int              // goja call stack limit
	TimerBudget   int              // Max timer callbacks per drain
	Clock         func() time.Time // Source for Date and performance.now
	Seed          int64            // Seed for Math.random and crypto
	Fixtures      Fixtures         // Fingerprint constants exposed to scripts
	Capabilities  *Capabilities    // Object categories the emulator provides

	// CompilationCache is shared by sessions so a rotated bundle's WASM is
	// compiled once. Nil gives each session a private cache.
	CompilationCache wazero.CompilationCache
}

// Fixtures are the fixed fingerprint values scripts observe. They are stable
// test fixtures, not an attempt at realism.
type Fixtures struct {
	UserAgent           string
	Platform            string
	Language            string
	Vendor              string
	GPUVendor           string
	GPURenderer         string
	ScreenWidth         int
	ScreenHeight        int
	ColorDepth          int
	HardwareConcurrency int
	DeviceMemory        int
	TimezoneOffset      int
	CanvasDataURL       string
	Origin              string
	PagePath            string
}

// DefaultFixtures returns the desktop Chrome profile used for signing
func DefaultFixtures() Fixtures {
	return Fixtures{
		UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		Platform:            "Win32",
		Language:            "en-US",
		Vendor:              "Google Inc.",
		GPUVendor:           "Google Inc. (Intel)",
		GPURenderer:         "ANGLE (Intel, Intel(R) UHD Graphics 630 Direct3D11 vs_5_0 ps_5_0, D3D11)",
		ScreenWidth:         1920,
		ScreenHeight:        1080,
		ColorDepth:          24,
		HardwareConcurrency: 8,
		DeviceMemory:        8,
		TimezoneOffset:      300,
		CanvasDataURL:       "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAASwAAACWCAYAAABkW7XSAAAAAXNSR0IArs4c6QAAAARzQklUCAgICHwIZIgAAAAJcEhZcwAADsQAAA7EAZUrDhsAAAAZdEVYdFNvZnR3YXJlAHd3dy5pbmtzY2FwZS5vcmeb7jwaAAAAEklEQVR4nO3BMQEAAADCoPVPbQ0PoAAAAAAAAAAAvg0hAAABmmDh1QAAAABJRU5ErkJggg==",
		Origin:              "https://t.17track.net",
		PagePath:            "/en",
	}
}

// SignContext carries per-request values visible to the signing script
type SignContext struct {
	TrackingNumber string
}

// Script is one JavaScript source evaluated in order
type Script struct {
	Name   string
	Source string
}

// Bundle is everything a session needs to run the signer
type Bundle struct {
	Scripts  []Script
	PageHTML string            // Tracking page, used for the DOM snapshot
	Assets   map[string][]byte // Extra resources served to fetch(), keyed by URL or file name
	Version  string            // configs.md5 of the page the bundle was discovered on
	Digest   string
}

// BundleSource supplies the signing bundle to a session
type BundleSource interface {
	Bundle(ctx context.Context) (*Bundle, error)
}

// StaticSource serves a bundle that is already in memory
type StaticSource struct {
	B *Bundle
}

// Bundle implements BundleSource
func (s StaticSource) Bundle(context.Context) (*Bundle, error) {
	return s.B, nil
}

// LogEntry represents console output
type LogEntry struct {
	Level   string    // log, warn, error, debug, info
	Message string    // Log message
	Time    time.Time // Timestamp
}

// State is the lifecycle position of a Session
type State int

const (
	StateFresh State = iota
	StateEnvironmentInstalled
	StateAssetsLoaded
	StateModuleExecuted
	StateSignatureExtracted
	StateFailed
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateEnvironmentInstalled:
		return "environment_installed"
	case StateAssetsLoaded:
		return "assets_loaded"
	case StateModuleExecuted:
		return "module_executed"
	case StateSignatureExtracted:
		return "signature_extracted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == StateSignatureExtracted || s == StateFailed
}

// Signer produces a signature for a tracking context from the bundle src serves
type Signer interface {
	SignWith(ctx context.Context, sc SignContext, src BundleSource) (string, error)
}

// DefaultConfig returns the configuration used for production signing
func DefaultConfig() Config {
	return Config{
		Timeout:       10 * time.Second,
		EntryModule:   "4279",
		ExportName:    "get_fingerprint",
		ChunkGlobals:  []string{"webpackChunk_N_E"},
		EnableConsole: true,
		MaxCallStack:  4096,
		TimerBudget:   10000,
		Clock:         time.Now,
		Fixtures:      DefaultFixtures(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.EntryModule == "" {
		c.EntryModule = d.EntryModule
	}
	if c.ExportName == "" {
		c.ExportName = d.ExportName
	}
	if len(c.ChunkGlobals) == 0 {
		c.ChunkGlobals = d.ChunkGlobals
	}
	if c.MaxCallStack <= 0 {
		c.MaxCallStack = d.MaxCallStack
	}
	if c.TimerBudget <= 0 {
		c.TimerBudget = d.TimerBudget
	}
	if c.Clock == nil {
		c.Clock = d.Clock
	}
	if c.Fixtures.UserAgent == "" {
		c.Fixtures = d.Fixtures
	}
	if c.Capabilities == nil {
		c.Capabilities = DefaultCapabilities()
	}
	return c
}
