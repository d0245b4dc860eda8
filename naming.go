package aggregates

import (
	"strings"

	"github.com/pkg/errors"
)

const (
	oobSuffix      = ".OOB"
	snapshotSuffix = ".snapshots"
)

func validate(bucket, streamId string) error {
	switch {
	case bucket == "":
		return errors.WithMessage(ErrInvalidStreamId, "empty bucket")
	case streamId == "":
		return errors.WithMessage(ErrInvalidStreamId, "empty stream id")
	case strings.Contains(bucket, "/"):
		return errors.WithMessagef(ErrInvalidStreamId, "bucket %q contains /", bucket)
	case strings.HasSuffix(bucket, oobSuffix), strings.HasSuffix(bucket, snapshotSuffix):
		return errors.WithMessagef(ErrInvalidStreamId, "bucket %q uses a reserved suffix", bucket)
	}
	return nil
}

// StreamName is the physical name of the stream bucket/streamId.
func StreamName(bucket, streamId string) (string, error) {
	if err := validate(bucket, streamId); err != nil {
		return "", err
	}
	return bucket + "/" + streamId, nil
}

// OOBStreamName is the physical name of the out-of-band stream belonging to bucket/streamId.
func OOBStreamName(bucket, streamId string) (string, error) {
	if err := validate(bucket, streamId); err != nil {
		return "", err
	}
	return bucket + oobSuffix + "/" + streamId, nil
}

func SnapshotStreamName(bucket, streamId string) (string, error) {
	if err := validate(bucket, streamId); err != nil {
		return "", err
	}
	return bucket + snapshotSuffix + "/" + streamId, nil
}
