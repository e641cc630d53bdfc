// Package main runs the in-memory HTTP relay that carries encrypted
// credentials between the two devices.
//
// HTTP API
//
//	GET /send?receiver=<token>&message=<base64>
//	POST /send?receiver=<token>          (message as the request body)
//	    Store the message for <token>, replacing any undelivered one, or
//	    hand it straight to a waiting /receive. Messages over the size
//	    limit (256 KiB by default) get 413.
//
//	GET /receive?receiver=<token>
//	    Return the stored message for <token> as a JSON string, waiting up
//	    to the long-poll window (30s by default) for one to arrive. Answers
//	    null when nothing arrived.
//
// Behaviour
//
//   - All state is held in memory and lost on process exit. After a period
//     with no traffic at all (10m by default) every mailbox is dropped.
//   - Every response carries Access-Control-Allow-Origin: * so pages on
//     any origin can use the relay.
//   - A lightweight access log records request id, method, path, remote,
//     status, bytes and duration for each request. Query strings are never
//     logged.
//   - The default listen address is :8091.
//
// The relay is an untrusted middleman. It never sees plaintext or private
// keys; it only stores ciphertext keyed by public-key routing tokens.
package main
