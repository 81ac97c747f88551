package pipeline

const (
	// UploadRowOffset numbers spreadsheet rows 1-based after the header row.
	UploadRowOffset = 2

	// DefaultRowOffset numbers rows 1-based.
	DefaultRowOffset = 1

	// MaxBatchRows bounds the rows accepted in one batch.
	MaxBatchRows = 5000
)
