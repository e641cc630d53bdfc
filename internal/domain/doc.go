// Package domain defines the data models, sentinel errors and interfaces
// shared across pfp. It contains plain types (wire/state) and contracts
// (interfaces) only; nothing here performs I/O or cryptography.
package domain
