// Package config loads host configuration from the environment, with an
// optional TOML file layer underneath. Every knob has a default so the
// host runs with zero configuration.
package config
