// Package pairing gets a routing token from the receiving device to the
// sending device and tracks each side through Idle, AwaitingToken and
// Paired.
//
// The receiving side (Receiver) creates the session, publishes an Offer
// through whatever out-of-band channel it was given, and subscribes to the
// relay. The first envelope it can decrypt completes the pairing.
//
// The sending side (Sender) accepts an Offer directly, from a pairing link
// (ParseLink), or from a pfp_receiver_init notification on a Bus whose
// origin is on its allow-list.
package pairing
