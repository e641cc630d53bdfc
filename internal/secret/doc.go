// Package secret keeps credential bytes out of the Go heap.
//
// A Buffer is an anonymous mmap region locked into RAM (mlock) and
// excluded from core dumps (MADV_DONTDUMP). Close zeroes, unlocks and
// unmaps it. The receive command moves every decrypted credential into a
// Buffer before splitting it, and the send command reads credentials from
// files or stdin straight into one.
package secret
