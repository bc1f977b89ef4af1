// Package logging builds the process logger from configuration.
package logging
