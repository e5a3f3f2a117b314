package types

// ValidationResult is the Integrity Validator's verdict for one upload.
// Once set on a record it stays immutable until re-validation is requested.
type ValidationResult struct {
	IsValid          bool   `json:"is_valid"`
	ExpectedChecksum string `json:"expected_checksum,omitempty"`
	ActualChecksum   string `json:"actual_checksum,omitempty"`
	CorruptedChunks  []int  `json:"corrupted_chunks,omitempty"` // chunk indices, 1-based
	Error            string `json:"error,omitempty"`
}
