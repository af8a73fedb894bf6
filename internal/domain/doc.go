// Package domain defines the collector's core types: parsed identifiers,
// collection jobs and their merge-patch rules, resolved and persisted
// entities, and the error taxonomy shared by every layer.
package domain
