// Package setup prepares the host for tpn: it locates wireguard-tools,
// installs them with the platform package manager when they are missing, and
// removes configuration files left behind by earlier runs.
//
// Host preparation runs before any command has a logger to hand down, so
// this package keeps its own, set once through SetLogger.
package setup
