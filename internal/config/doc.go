// Package config loads, normalizes, and validates Conveyor configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and applies CONVEYOR_* environment overrides.
// The Config type centralizes every knob the daemon and CLI need: worker pool
// sizing, gate and learning parameters, owner defaults, and LLM credentials.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
