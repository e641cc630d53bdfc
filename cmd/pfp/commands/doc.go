// Package commands defines the pfp CLI and wires dependencies for subcommands.
//
// Commands
//
//   - receive       Create a session, print its pairing link and print
//     credentials as they arrive
//   - send          Pair with a link or token and send a credential,
//     interactively or from a file or stdin
//   - fingerprint   Print the short fingerprint of a link or token, for
//     comparing both devices
//
// # Implementation
//
// The root command loads the configuration, builds the logger and the
// dependency graph (cipher, session service, relay client) before any
// subcommand runs, so handlers share one wire with configured timeouts.
package commands
