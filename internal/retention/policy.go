// Package retention prunes note history under a configurable policy while
// preserving anchor versions.
package retention

import (
	"time"

	"github.com/go-playground/validator/v10"

	"noteledger/internal/store"
	"noteledger/internal/version"
)

// Every 10th version number is a milestone anchor.
const milestoneInterval = 10

// Policy bounds how much history a note keeps. Zero values for MaxVersions
// and MaxAgeDays mean the corresponding rule is off.
type Policy struct {
	MaxVersions      int  `json:"maxVersions" validate:"gte=0,lte=100000"`
	MaxAgeDays       int  `json:"maxAgeDays" validate:"gte=0,lte=36500"`
	KeepMilestones   bool `json:"keepMilestones"`
	KeepFirstVersion bool `json:"keepFirstVersion"`
}

func DefaultPolicy() Policy {
	return Policy{
		MaxVersions:      100,
		MaxAgeDays:       365,
		KeepMilestones:   true,
		KeepFirstVersion: true,
	}
}

var validate = validator.New()

func (p Policy) Validate() error {
	return validate.Struct(p)
}

// Plan decides which snapshot rows are safe to discard. versions must be
// ordered by version number descending; the returned slice holds row IDs.
//
// Anchors are never deleted: the latest version, version 1 when
// KeepFirstVersion is set, milestone numbers when KeepMilestones is set, and
// every CREATED snapshot unconditionally. The rest fall to the count and age
// limits.
func Plan(versions []store.NoteVersion, p Policy, now time.Time) []string {
	var cutoff time.Time
	if p.MaxAgeDays > 0 {
		cutoff = now.AddDate(0, 0, -p.MaxAgeDays)
	}

	var doomed []string
	for i, v := range versions {
		if i == 0 {
			continue
		}
		if p.KeepFirstVersion && v.Version == 1 {
			continue
		}
		if p.KeepMilestones && v.Version%milestoneInterval == 0 {
			continue
		}
		if v.ChangeType == string(version.ChangeCreated) {
			continue
		}
		if p.MaxVersions > 0 && i >= p.MaxVersions {
			doomed = append(doomed, v.ID)
			continue
		}
		if p.MaxAgeDays > 0 && v.CreatedAt.Before(cutoff) {
			doomed = append(doomed, v.ID)
		}
	}
	return doomed
}
