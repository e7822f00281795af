package shared

const (
	ServiceName = "runbeat-api"

	// Task names routed through the in-process queue.
	TaskProcessImport   = "task-process-import"
	TaskUpdateRanking   = "task-update-ranking"
	TaskUpdateStats     = "task-update-stats"
	TaskSyncStrava      = "task-sync-strava"
	TaskCourseThumbnail = "task-course-thumbnail"

	// RunSession lifecycle.
	SessionActive    = "active"
	SessionCompleted = "completed"
	SessionRecovered = "recovered"
	SessionImported  = "imported"

	// ExternalImport lifecycle.
	ImportPending    = "pending"
	ImportProcessing = "processing"
	ImportCompleted  = "completed"
	ImportFailed     = "failed"

	// Chunk types. A final chunk closes the client-side buffer; the server
	// treats both the same.
	ChunkIntermediate = "intermediate"
	ChunkFinal        = "final"

	// Run record sources.
	SourceApp       = "app"
	SourceGPXUpload = "gpx_upload"
	SourceFITUpload = "fit_upload"
	SourceStrava    = "strava"

	// Social login providers.
	ProviderApple  = "apple"
	ProviderGoogle = "google"
	ProviderKakao  = "kakao"
	ProviderNaver  = "naver"

	// Course difficulty buckets.
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)
