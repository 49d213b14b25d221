package printdoc

import (
	"fmt"

	"go-badge-printer/badge"
)

// ImageEmbedError is a per-person image that could not be placed on the
// card. The job continues with the region left blank.
type ImageEmbedError struct {
	Region badge.Field
	Err    error
}

func (e *ImageEmbedError) Error() string {
	return fmt.Sprintf("embed %s: %v", e.Region, e.Err)
}

func (e *ImageEmbedError) Unwrap() error { return e.Err }

// FixedAssetError is the institutional artwork failing to load or convert.
// It aborts the job.
type FixedAssetError struct {
	Ref string
	Err error
}

func (e *FixedAssetError) Error() string {
	return fmt.Sprintf("institutional asset %q: %v", e.Ref, e.Err)
}

func (e *FixedAssetError) Unwrap() error { return e.Err }
