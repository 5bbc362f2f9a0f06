package shelfsdk

// LibraryInfo is one catalog entry of the server's library listing.
type LibraryInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	FileCount int    `json:"file_count"`
	TotalSize int64  `json:"total_size"`
	Digest    string `json:"digest"`
}

// ListResponse is the catalog listing payload.
type ListResponse struct {
	Libraries []*LibraryInfo `json:"libraries"`
}

// DigestResponse carries just the manifest digest of one library, so a
// client can skip a whole sync cycle without transferring the manifest.
type DigestResponse struct {
	LibraryID string `json:"library_id"`
	Digest    string `json:"digest"`
}

// RescanParams requests a server-side rescan. Empty LibraryID rescans all.
type RescanParams struct {
	LibraryID string `json:"library_id,omitempty"`
}

// RescanResponse reports the digests after a forced rescan.
type RescanResponse struct {
	Scanned map[string]string `json:"scanned"` // library id -> digest
}
