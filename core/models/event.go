package models

import "time"

// ExperimentStatus represents a status transition of an experiment
type ExperimentStatus struct {
	ID           int64
	ExperimentID int64
	At           time.Time
	Status       ExperimentLifeCycle
	Message      string
	Traceback    string
}
