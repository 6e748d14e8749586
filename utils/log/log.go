package log

import (
	log "github.com/sirupsen/logrus"
)

const (
	// RolloutKey defines the key for the rollout field
	RolloutKey = "rollout"
	// RevisionKey defines the key for the revision field
	RevisionKey = "revision"
	// PodKey defines the key for the pod field
	PodKey = "pod"
)

// WithRollout returns a logging context for a rollout
func WithRollout(name string) *log.Entry {
	return log.WithField(RolloutKey, name)
}

// WithRevision adds the revision being reconciled to a logging context
func WithRevision(entry *log.Entry, revisionID int64) *log.Entry {
	return entry.WithField(RevisionKey, revisionID)
}
