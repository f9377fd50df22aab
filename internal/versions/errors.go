package versions

import (
	"fmt"

	"conveyor/internal/services"
)

var (
	// ErrCandidateExists reports an open candidate already present on the project.
	ErrCandidateExists = fmt.Errorf("%w: project already has an open candidate", services.ErrConflict)

	// ErrStaleCandidate reports a candidate whose base is no longer current.
	ErrStaleCandidate = fmt.Errorf("%w: candidate base is no longer current", services.ErrConflict)

	// ErrNotCandidate reports accept or reject of a version that is not an open candidate.
	ErrNotCandidate = fmt.Errorf("%w: version is not an open candidate", services.ErrConflict)

	// ErrProjectExists reports a second project seeded from the same script.
	ErrProjectExists = fmt.Errorf("%w: script already has a project", services.ErrConflict)

	// ErrVersionNotFound reports a missing version or project.
	ErrVersionNotFound = fmt.Errorf("%w: version not found", services.ErrConflict)

	// ErrSupersededVersion reports a recommendation whose version is no longer current.
	ErrSupersededVersion = fmt.Errorf("%w: version has been superseded", services.ErrConflict)

	// ErrRecommendationApplied reports a recommendation applied a second time.
	ErrRecommendationApplied = fmt.Errorf("%w: recommendation already applied", services.ErrConflict)

	// ErrRecommendationNotFound reports a missing recommendation.
	ErrRecommendationNotFound = fmt.Errorf("%w: recommendation", services.ErrNotFound)

	// ErrNoChanges reports an edit or recommendation that leaves every scene unchanged.
	ErrNoChanges = fmt.Errorf("%w: no scene changes", services.ErrValidation)
)
