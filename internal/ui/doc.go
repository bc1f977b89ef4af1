// Package ui is the terminal dashboard of the audiopipe player.
package ui
