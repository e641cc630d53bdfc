// Package app wires application dependencies for the pfp and relay
// commands.
//
// Configuration comes from a single YAML file named by --config or the
// PFP_CONFIG environment variable. With neither set, built-in defaults
// are used. NewWire builds the cipher, session service and relay client
// from a validated Config and hands out the pairing and submission
// components the commands run.
package app
