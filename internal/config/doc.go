// Package config loads the TaskPulse daemon configuration from a JSON or YAML
// file and applies environment overrides on top of it.
package config
