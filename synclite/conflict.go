package synclite

// ShouldAcceptServer decides whether an incoming server document may
// overwrite the local copy: last-write-wins on the coalesced mutation
// timestamp, with missing timestamps defaulting to epoch zero. Ties go to
// the server, since it is the source of truth.
func ShouldAcceptServer(local, remote Document) bool {
	if local == nil {
		return true
	}
	return !remote.UpdatedAt().Before(local.UpdatedAt())
}
