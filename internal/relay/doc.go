// Package relay talks to, and implements, the untrusted store-and-forward
// relay that carries envelopes between the two devices.
//
// The relay never sees plaintext or private keys; it stores base64
// ciphertext keyed by routing token and hands it to whoever asks.
//
// Client side
//
//   - HTTPClient.Send issues one GET /send?receiver=<token>&message=<b64>
//     (POST with the message as body when it would not fit a URL). The
//     response body is ignored; any failure wraps domain.ErrTransientNetwork.
//   - HTTPClient.Subscribe long-polls GET /receive?receiver=<token> and
//     hands each message to a handler, retrying failed polls at a fixed
//     interval until stopped.
//   - Memory is an in-process shared channel: every subscriber sees every
//     envelope and keeps only those addressed to its own token (Accept).
//
// Server side
//
// Server serves /send and /receive. Each receiver has a single slot holding
// the latest undelivered message; a waiting /receive gets a message directly.
// /receive waits up to the long-poll window and answers with a JSON string
// or null. All state is in memory and is dropped after a period with no
// traffic at all.
package relay
