package api

const (
	// Generic request/server errors
	CodeInvalidRequest = "E_INVALID_REQUEST" // bad or invalid request
	CodeRateLimited    = "E_RATE_LIMITED"    // rate limit exceeded
	CodeInternalError  = "E_INTERNAL_ERROR"  // internal server error

	// Library errors
	CodeLibraryNotFound = "E_LIBRARY_NOT_FOUND" // the library does not exist
	CodeLibraryScanning = "E_LIBRARY_SCANNING"  // a scan is in progress, no manifest yet
	CodeFileNotFound    = "E_FILE_NOT_FOUND"    // the file is not part of the library
	CodeInvalidPath     = "E_INVALID_PATH"      // the requested path is malformed or escapes the tree
	CodeRangeInvalid    = "E_RANGE_INVALID"     // the requested byte range cannot be satisfied
	CodeScanFailed      = "E_SCAN_FAILED"       // the library tree could not be fingerprinted
)
