// Package config loads the audiopipe YAML configuration and maps it onto
// engine settings.
package config
