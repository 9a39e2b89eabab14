// Package command defines the command envelope, the registry that validates
// commands before a decision, and the Decision value a decider returns.
//
// Deciders never touch storage. They receive normalized commands and return
// either events to append or rejections explaining why nothing happened.
package command
