package fetchd

import "errors"

// ErrClaimConflict reports a terminal transition attempted on a job that is
// no longer in_progress. The atomic claim primitive makes this impossible
// under normal operation; observing it means the store violated its own
// invariant, so callers log it as critical rather than retrying.
var ErrClaimConflict = errors.New("job is not in_progress")
