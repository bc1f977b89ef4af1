// Package discovery advertises pipeline monitors over mDNS and finds them.
package discovery
