// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package smm

import (
	"fmt"
	"sync/atomic"

	"k8s.io/klog/v2"
)

// Once limits a diagnostic to a single emission per process. Declare one
// package-level Once per call site.
type Once struct {
	fired atomic.Bool
}

// Fired reports whether the diagnostic was emitted already.
func (o *Once) Fired() bool {
	return o.fired.Load()
}

// WarningOnce logs a warning the first time it is called on o, provided the
// configuration enables the given level. It reports whether it logged.
func WarningOnce(o *Once, cfg *Config, level int, format string, args ...any) bool {
	if !cfg.Enabled(level) || !o.fired.CompareAndSwap(false, true) {
		return false
	}
	klog.WarningDepth(1, "smm warning: "+fmt.Sprintf(format, args...))
	return true
}

// ErrorOnce logs an error the first time it is called on o unless the
// configuration is mute.
func ErrorOnce(o *Once, cfg *Config, format string, args ...any) bool {
	if !cfg.Enabled(VerbosityWarn) || !o.fired.CompareAndSwap(false, true) {
		return false
	}
	klog.ErrorDepth(1, "smm error: "+fmt.Sprintf(format, args...))
	return true
}

// Debugf logs at debug verbosity.
func Debugf(cfg *Config, format string, args ...any) {
	if cfg.Enabled(VerbosityDebug) {
		klog.InfoDepth(1, fmt.Sprintf(format, args...))
	}
}

// Warningf logs a warning unless the configuration is mute.
func Warningf(cfg *Config, format string, args ...any) {
	if cfg.Enabled(VerbosityWarn) {
		klog.WarningDepth(1, "smm warning: "+fmt.Sprintf(format, args...))
	}
}
