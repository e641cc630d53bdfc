// Package ui is the interactive credential form used by pfp send.
//
// The form has a username and a password field. Every edit hands the
// combined credential to a submit callback, normally a submission loop's
// Set, so the receiving device sees the value as it is typed. Delivery
// results come back as SentMsg and ErrorMsg through tea.Program.Send.
package ui
